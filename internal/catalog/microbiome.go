package catalog

import (
	"fmt"

	"emprofiler/internal/operations"
)

// AlphaMetrics are the supported alpha diversity indices
var AlphaMetrics = []string{"shannon", "simpson", "observed", "chao1"}

var taxonomyLevels = []string{"kingdom", "phylum", "class", "order", "family", "genus", "species"}

func featureTable(required bool) operations.ParameterDefinition {
	def := operations.ParameterDefinition{
		Name:        "table",
		Type:        operations.TypeString,
		Description: "processed feature table",
		Required:    required,
	}
	if !required {
		def.Default = "feature_table.biom"
	}
	return def
}

func microbiomeOperations() []operations.OperationSpec {
	return []operations.OperationSpec{
		{
			Name:        "microbiome-load",
			Description: "Load a microbiome abundance table",
			Parameters: operations.ParameterSchema{
				required("file_path", operations.TypeString, "abundance table location"),
				choice("format", "biom", "biom", "tsv", "csv"),
			},
			Outputs: []string{"table", "samples", "features", "sparsity"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"table":    stringParam(p, "file_path", ""),
					"format":   stringParam(p, "format", "biom"),
					"samples":  50,
					"features": 2000,
					"sparsity": 0.85,
				}
			}),
		},
		{
			Name:        "microbiome-preprocess",
			Description: "Quality filtering, normalization and rarefaction",
			Parameters: operations.ParameterSchema{
				featureTable(true),
				choice("method", "rarefaction", "rarefaction", "tss", "css", "clr"),
				optional("samples", operations.TypeInteger, 50, "input sample count"),
			},
			Outputs: []string{"table", "samples_retained", "features_retained", "steps"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"table":             "processed/feature_table.biom",
					"method":            stringParam(p, "method", "rarefaction"),
					"samples_retained":  intParam(p, "samples", 50) * 9 / 10,
					"features_retained": 1500,
					"steps":             []interface{}{"Quality filtering", "Normalization", "Rarefaction"},
				}
			}),
		},
		{
			Name:        "taxonomy-collapse",
			Description: "Collapse features to a taxonomic level",
			Parameters: operations.ParameterSchema{
				featureTable(false),
				choice("level", "genus", taxonomyLevels...),
			},
			Outputs: []string{"level", "original_features", "collapsed_features", "mapping"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				level := stringParam(p, "level", "genus")
				return operations.Result{
					"level":              level,
					"original_features":  2000,
					"collapsed_features": 350,
					"mapping":            fmt.Sprintf("taxonomy_%s_mapping.json", level),
				}
			}),
		},
		{
			Name:        "alpha-diversity",
			Description: "Alpha diversity index per sample",
			Parameters: operations.ParameterSchema{
				{
					Name:        "metric",
					Type:        operations.TypeString,
					Description: "diversity index",
					Required:    true,
					Options:     AlphaMetrics,
				},
				featureTable(false),
			},
			Outputs: []string{"metric", "mean", "sd", "min", "max", "plot_files"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"metric":     stringParam(p, "metric", "shannon"),
					"mean":       3.5,
					"sd":         0.8,
					"min":        1.2,
					"max":        5.2,
					"plot_files": []interface{}{"alpha_boxplot.png", "alpha_rank.png"},
				}
			}),
		},
		{
			Name:        "beta-diversity",
			Description: "Between-sample distance and ordination",
			Parameters: operations.ParameterSchema{
				featureTable(false),
				choice("method", "bray_curtis", "bray_curtis", "jaccard", "unifrac", "wunifrac"),
				choice("ordination", "pcoa", "pcoa", "nmds", "dca", "pca"),
			},
			Outputs: []string{"distance_method", "ordination_method", "variance_explained", "plot_files"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"distance_method":    stringParam(p, "method", "bray_curtis"),
					"ordination_method":  stringParam(p, "ordination", "pcoa"),
					"variance_explained": []interface{}{0.35, 0.18, 0.12},
					"plot_files":         []interface{}{"beta_pcoa.png", "beta_heatmap.png"},
				}
			}),
		},
		{
			Name:        "differential-abundance",
			Description: "Differential abundance between sample groups",
			Parameters: operations.ParameterSchema{
				featureTable(false),
				{Name: "group", Type: operations.TypeList, Description: "group label per sample", Required: true, Constraint: "min=2"},
				choice("method", "DESeq2", "DESeq2", "edgeR", "limma", "wilcox"),
			},
			Outputs: []string{"method", "groups", "increased", "decreased", "significant", "plot_files"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"method":      stringParam(p, "method", "DESeq2"),
					"groups":      distinct(listParam(p, "group")),
					"increased":   150,
					"decreased":   120,
					"significant": 270,
					"plot_files":  []interface{}{"volcano.png", "heatmap.png"},
				}
			}),
		},
		{
			Name:        "cooccurrence-network",
			Description: "Co-occurrence network inference",
			Parameters: operations.ParameterSchema{
				featureTable(false),
				choice("method", "SparCC", "SparCC", "spearman", "pearson", "SPIEC-EASI"),
			},
			Outputs: []string{"method", "nodes", "edges", "avg_degree", "modularity", "plot_files"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"method":     stringParam(p, "method", "SparCC"),
					"nodes":      200,
					"edges":      450,
					"avg_degree": 4.5,
					"modularity": 0.65,
					"plot_files": []interface{}{"network.png", "cooccurrence.png"},
				}
			}),
		},
		{
			Name:        "sample-clustering",
			Description: "Cluster samples by community composition",
			Parameters: operations.ParameterSchema{
				featureTable(false),
				choice("method", "hclust", "hclust", "kmeans", "pam"),
				{Name: "n_clusters", Type: operations.TypeInteger, Default: 4, Constraint: "gte=1,lte=50"},
			},
			Outputs: []string{"method", "n_clusters", "cluster_sizes", "plot_files"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				n := intParam(p, "n_clusters", 4)
				return operations.Result{
					"method":        stringParam(p, "method", "hclust"),
					"n_clusters":    n,
					"cluster_sizes": clusterSizes(50, n),
					"plot_files":    []interface{}{"cluster_dendrogram.png", "cluster_barplot.png"},
				}
			}),
		},
		{
			Name:        "feature-correlation",
			Description: "Pairwise feature correlation",
			Parameters: operations.ParameterSchema{
				featureTable(false),
				choice("method", "spearman", "spearman", "pearson", "kendall"),
			},
			Outputs: []string{"method", "correlations", "significant", "plot_files"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"method":       stringParam(p, "method", "spearman"),
					"correlations": 2500,
					"significant":  380,
					"plot_files":   []interface{}{"correlation_heatmap.png"},
				}
			}),
		},
		{
			Name:        "marker-taxa",
			Description: "Biomarker taxa between groups",
			Parameters: operations.ParameterSchema{
				featureTable(false),
				{Name: "group", Type: operations.TypeList, Description: "group label per sample", Required: true, Constraint: "min=2"},
				choice("method", "wilcox", "wilcox", "lefse", "randomforest"),
			},
			Outputs: []string{"method", "n_markers", "markers", "taxa", "plot_files"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				markers := []interface{}{
					map[string]interface{}{"taxon": "Bacteroides", "logFC": 2.5, "pvalue": 1e-10, "padj": 1e-8},
					map[string]interface{}{"taxon": "Lactobacillus", "logFC": -1.8, "pvalue": 1e-8, "padj": 1e-6},
					map[string]interface{}{"taxon": "Faecalibacterium", "logFC": 1.5, "pvalue": 1e-6, "padj": 0.001},
				}
				return operations.Result{
					"method":     stringParam(p, "method", "wilcox"),
					"n_markers":  len(markers),
					"markers":    markers,
					"taxa":       []interface{}{"Bacteroides", "Lactobacillus", "Faecalibacterium"},
					"plot_files": []interface{}{"marker_volcano.png", "marker_heatmap.png"},
				}
			}),
		},
		{
			Name:        "functional-enrichment",
			Description: "Functional enrichment of marker features",
			Parameters: operations.ParameterSchema{
				{Name: "markers", Type: operations.TypeList, Required: true, Constraint: "min=1"},
				choice("database", "KEGG", "KEGG", "GO", "Reactome"),
			},
			Outputs: []string{"database", "pathways", "plot_files"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"database": stringParam(p, "database", "KEGG"),
					"pathways": []interface{}{
						map[string]interface{}{"pathway": "KEGG: Amino sugar metabolism", "pvalue": 1e-8, "genes": 15},
						map[string]interface{}{"pathway": "KEGG: Glycan degradation", "pvalue": 1e-6, "genes": 12},
						map[string]interface{}{"pathway": "GO: immune response", "pvalue": 1e-5, "genes": 25},
					},
					"plot_files": []interface{}{"enrich_barplot.png", "enrich_dotplot.png"},
				}
			}),
		},
		{
			Name:        "wgcna",
			Description: "Weighted co-expression network modules",
			Parameters: operations.ParameterSchema{
				featureTable(false),
				{Name: "power", Type: operations.TypeInteger, Default: 6, Constraint: "gte=1,lte=30"},
			},
			Outputs: []string{"power", "n_modules", "modules", "module_trait_correlation", "plot_files"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				modules := make([]interface{}, 12)
				for i := range modules {
					modules[i] = fmt.Sprintf("ME%d", i+1)
				}
				return operations.Result{
					"power":                    intParam(p, "power", 6),
					"n_modules":                len(modules),
					"modules":                  modules,
					"module_trait_correlation": 0.75,
					"plot_files":               []interface{}{"wgcna_dendrogram.png", "module_trait.png"},
				}
			}),
		},
		{
			Name:        "microbiome-multiomics",
			Description: "Integrate microbiome with metabolomics or transcriptomics",
			Parameters: operations.ParameterSchema{
				featureTable(false),
				optional("metabolomics", operations.TypeString, "", "metabolite table"),
				optional("transcriptomics", operations.TypeString, "", "expression table"),
			},
			Outputs: []string{"integrated_omics", "correlations", "shared_features", "modules", "plot_files"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				integrated := []interface{}{"microbiome"}
				for _, layer := range []string{"metabolomics", "transcriptomics"} {
					if stringParam(p, layer, "") != "" {
						integrated = append(integrated, layer)
					}
				}
				return operations.Result{
					"integrated_omics": integrated,
					"correlations":     150,
					"shared_features":  45,
					"modules":          8,
					"plot_files":       []interface{}{"integration_network.png", "multi_omics_heatmap.png"},
				}
			}),
		},
	}
}

func distinct(values []interface{}) []interface{} {
	seen := make(map[string]bool, len(values))
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		key := fmt.Sprint(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}
