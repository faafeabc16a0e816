package catalog

// LegacyDomains are the per-domain analysis endpoints. A legacy request
// names an analysis which is mapped through the alias table as
// "domain.analysis".
var LegacyDomains = []string{"chipseq", "singlecell", "multiomics", "microbiome"}

// LegacyAlias returns the alias key for a domain analysis
func LegacyAlias(domain, analysis string) string {
	return domain + "." + analysis
}

func builtinPipelines() []PipelineEntry {
	return []PipelineEntry{
		{
			Name:        "chipseq-complete",
			Description: "Peak calling, annotation, motif discovery and pathway enrichment",
			Stages: []StageEntry{
				{ID: "qc", Operation: "chipseq-qc"},
				{ID: "peaks", Operation: "macs2"},
				{ID: "annotation", Operation: "peak-annotation", Bind: map[string]string{"peaks_file": "peaks.peaks_file"}},
				{ID: "motifs", Operation: "homer-motif", Bind: map[string]string{"peaks_file": "peaks.peaks_file"}},
				{ID: "enrichment", Operation: "gene-enrichment", Bind: map[string]string{"gene_list": "annotation.nearest_genes"}},
				{
					ID:        "figure",
					Operation: "plot",
					Params:    map[string]interface{}{"plot_type": "enrichplot"},
					Bind:      map[string]string{"data": "enrichment.pathways"},
				},
			},
		},
		{
			Name:        "singlecell-complete",
			Description: "Load, preprocess, embed, cluster and annotate single-cell data",
			Stages: []StageEntry{
				{ID: "load", Operation: "sc-load"},
				{ID: "preprocess", Operation: "sc-preprocess", Bind: map[string]string{"cells": "load.cells"}},
				{ID: "embedding", Operation: "dimension-reduction", Bind: map[string]string{"n_cells": "preprocess.filtered_cells"}},
				{
					ID:        "clusters",
					Operation: "cell-clustering",
					Bind:      map[string]string{"n_cells": "preprocess.filtered_cells"},
					After:     []string{"embedding"},
				},
				{ID: "markers", Operation: "marker-genes", Bind: map[string]string{"clusters": "clusters.clusters"}},
				{ID: "annotation", Operation: "cell-type-annotation", Bind: map[string]string{"cluster_sizes": "clusters.cluster_sizes"}},
				{
					ID:        "figure",
					Operation: "plot",
					Params:    map[string]interface{}{"plot_type": "umap"},
					Bind:      map[string]string{"data": "embedding.coordinates"},
				},
			},
		},
		{
			Name:        "microbiome-complete",
			Description: "Load, preprocess and run diversity, differential and network analyses",
			Stages: []StageEntry{
				{ID: "load", Operation: "microbiome-load"},
				{
					ID:        "preprocess",
					Operation: "microbiome-preprocess",
					Bind:      map[string]string{"table": "load.table", "samples": "load.samples"},
				},
				{
					ID:        "alpha",
					Operation: "alpha-diversity",
					Params:    map[string]interface{}{"metric": "shannon"},
					Bind:      map[string]string{"table": "preprocess.table"},
				},
				{ID: "beta", Operation: "beta-diversity", Bind: map[string]string{"table": "preprocess.table"}},
				{ID: "differential", Operation: "differential-abundance", Bind: map[string]string{"table": "preprocess.table"}},
				{ID: "network", Operation: "cooccurrence-network", Bind: map[string]string{"table": "preprocess.table"}},
			},
		},
		{
			Name:        "multiomics-integration",
			Description: "Correlation, factor and joint module analysis across transcriptome, microbiome and clinical data",
			BestEffort:  true,
			Stages: []StageEntry{
				{ID: "rnaseq-data", Operation: "load-rnaseq"},
				{ID: "microbiome-data", Operation: "load-microbiome"},
				{ID: "clinical-data", Operation: "load-clinical"},
				{
					ID:        "correlation",
					Operation: "omics-correlation",
					Bind:      map[string]string{"rnaseq": "rnaseq-data.dataset", "microbiome": "microbiome-data.dataset"},
				},
				{
					ID:        "network",
					Operation: "network-integration",
					Bind: map[string]string{
						"rnaseq":     "rnaseq-data.dataset",
						"microbiome": "microbiome-data.dataset",
						"clinical":   "clinical-data.dataset",
					},
				},
				{
					ID:        "joint",
					Operation: "multiomics-joint",
					Bind: map[string]string{
						"rnaseq":     "rnaseq-data.dataset",
						"microbiome": "microbiome-data.dataset",
						"clinical":   "clinical-data.dataset",
					},
				},
				{ID: "enrichment", Operation: "gene-enrichment", Bind: map[string]string{"gene_list": "joint.top_genes"}},
				{
					ID:        "figure",
					Operation: "visualization-config",
					Params:    map[string]interface{}{"analysis_type": "network"},
					After:     []string{"network"},
				},
			},
		},
	}
}

func builtinAliases() map[string]string {
	aliases := map[string]string{}
	add := func(domain string, table map[string]string) {
		for analysis, target := range table {
			aliases[LegacyAlias(domain, analysis)] = target
		}
	}

	add("chipseq", map[string]string{
		"qc":           "chipseq-qc",
		"callpeak":     "macs2",
		"peak_calling": "macs2",
		"motif":        "homer-motif",
		"annotate":     "peak-annotation",
		"annotation":   "peak-annotation",
		"diff":         "chipseq-differential",
		"differential": "chipseq-differential",
		"complete":     "chipseq-complete",
	})
	add("singlecell", map[string]string{
		"load":       "sc-load",
		"preprocess": "sc-preprocess",
		"dimred":     "dimension-reduction",
		"cluster":    "cell-clustering",
		"markers":    "marker-genes",
		"trajectory": "trajectory",
		"annotate":   "cell-type-annotation",
		"complete":   "singlecell-complete",
	})
	add("multiomics", map[string]string{
		"correlation":   "omics-correlation",
		"network":       "network-integration",
		"joint":         "multiomics-joint",
		"enrichment":    "gene-enrichment",
		"visualization": "visualization-config",
		"complete":      "multiomics-integration",
	})
	add("microbiome", map[string]string{
		"load":        "microbiome-load",
		"preprocess":  "microbiome-preprocess",
		"collapse":    "taxonomy-collapse",
		"alpha":       "alpha-diversity",
		"beta":        "beta-diversity",
		"diff":        "differential-abundance",
		"network":     "cooccurrence-network",
		"cluster":     "sample-clustering",
		"correlation": "feature-correlation",
		"marker":      "marker-taxa",
		"enrichment":  "functional-enrichment",
		"wgcna":       "wgcna",
		"multiomics":  "microbiome-multiomics",
		"complete":    "microbiome-complete",
	})
	return aliases
}
