package catalog

import (
	"path"

	"emprofiler/internal/operations"
)

var genomes = []string{"mm9", "mm10", "mm39", "hg19", "hg38"}

func chipseqOperations() []operations.OperationSpec {
	return []operations.OperationSpec{
		{
			Name:        "macs2",
			Description: "ChIP-seq peak calling (MACS2)",
			Parameters: operations.ParameterSchema{
				required("bam_file", operations.TypeString, "aligned reads (BAM/BED)"),
				optional("output_dir", operations.TypeString, "peaks", "directory for peak files"),
				choice("peak_type", "narrowPeak", "narrowPeak", "broadPeak"),
				{Name: "qvalue", Type: operations.TypeNumber, Default: 0.05, Constraint: "gt=0,lte=1"},
			},
			Outputs: []string{"peaks_file", "peak_count", "summary"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				file := path.Join(stringParam(p, "output_dir", "peaks"), "peaks."+stringParam(p, "peak_type", "narrowPeak"))
				return operations.Result{
					"peaks_file": file,
					"peak_count": 15000,
					"summary": map[string]interface{}{
						"total_peaks":      15000,
						"promoter_peaks":   4500,
						"enhancer_peaks":   6000,
						"intergenic_peaks": 4500,
					},
				}
			}),
		},
		{
			Name:        "homer-motif",
			Description: "Motif enrichment over called peaks (HOMER)",
			Parameters: operations.ParameterSchema{
				required("peaks_file", operations.TypeString, "peak file from peak calling"),
				{Name: "size", Type: operations.TypeInteger, Default: 200, Constraint: "gte=50,lte=1000"},
			},
			Outputs: []string{"motifs", "enriched_motifs"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				motifs := []interface{}{
					map[string]interface{}{"motif": "CTCF", "pvalue": 1e-15, "target_genes": 1200},
					map[string]interface{}{"motif": "REST", "pvalue": 1e-12, "target_genes": 800},
					map[string]interface{}{"motif": "POL2", "pvalue": 1e-10, "target_genes": 600},
				}
				return operations.Result{"motifs": motifs, "enriched_motifs": len(motifs)}
			}),
		},
		{
			Name:        "peak-annotation",
			Description: "Genomic annotation of peaks (ChIPseeker)",
			Parameters: operations.ParameterSchema{
				required("peaks_file", operations.TypeString, "peak file from peak calling"),
				choice("genome", "mm10", genomes...),
			},
			Outputs: []string{"genome", "annotations", "total_peaks", "nearest_genes"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"genome": stringParam(p, "genome", "mm10"),
					"annotations": []interface{}{
						map[string]interface{}{"region": "Promoter", "percentage": 30.5},
						map[string]interface{}{"region": "Intron", "percentage": 35.2},
						map[string]interface{}{"region": "Intergenic", "percentage": 25.8},
						map[string]interface{}{"region": "Exon", "percentage": 8.5},
					},
					"total_peaks":   15000,
					"nearest_genes": []interface{}{"Ctcf", "Rest", "Polr2a", "Sox2", "Nanog"},
				}
			}),
		},
		{
			Name:        "chipseq-differential",
			Description: "Differential binding between treatment and control",
			Parameters: operations.ParameterSchema{
				required("treatment_bam", operations.TypeString, "treatment reads"),
				required("control_bam", operations.TypeString, "control reads"),
			},
			Outputs: []string{"increased_peaks", "decreased_peaks", "common_peaks"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"increased_peaks": 2500,
					"decreased_peaks": 1800,
					"common_peaks":    10700,
				}
			}),
		},
		{
			Name:        "chipseq-qc",
			Description: "Library quality metrics (PBC, FRiP, NSC, RSC)",
			Parameters: operations.ParameterSchema{
				required("bam_file", operations.TypeString, "aligned reads"),
			},
			Outputs: []string{"total_reads", "mapped_reads", "unmapped_reads", "pbc", "frip", "nsc", "rsc"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"total_reads":    50000000,
					"mapped_reads":   48000000,
					"unmapped_reads": 2000000,
					"pbc":            0.85,
					"frip":           0.12,
					"nsc":            1.8,
					"rsc":            1.5,
				}
			}),
		},
	}
}
