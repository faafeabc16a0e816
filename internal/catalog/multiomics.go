package catalog

import (
	"emprofiler/internal/operations"
)

func omicsLoader(name, kind, description string, result operations.Result) operations.OperationSpec {
	return operations.OperationSpec{
		Name:        name,
		Description: description,
		Parameters: operations.ParameterSchema{
			required(kind+"_file", operations.TypeString, description+" input"),
		},
		Outputs: []string{"dataset"},
		Collaborator: simulated(func(p operations.Params) operations.Result {
			dataset := make(map[string]interface{}, len(result)+2)
			for k, v := range result {
				dataset[k] = v
			}
			dataset["type"] = kind
			dataset["source"] = stringParam(p, kind+"_file", "")
			return operations.Result{"dataset": dataset}
		}),
	}
}

func multiomicsOperations() []operations.OperationSpec {
	return []operations.OperationSpec{
		omicsLoader("load-rnaseq", "rnaseq", "Load an RNA-seq count matrix", operations.Result{
			"samples": 20, "genes": 15000, "format": "count_matrix",
		}),
		omicsLoader("load-microbiome", "microbiome", "Load a microbiome abundance table", operations.Result{
			"samples": 20, "taxa": 500, "format": "biom",
		}),
		omicsLoader("load-clinical", "clinical", "Load clinical covariates", operations.Result{
			"samples": 20, "variables": 15,
			"covariates": []interface{}{"age", "sex", "BMI", "disease_status"},
		}),
		{
			Name:        "omics-correlation",
			Description: "Cross-omics correlation between genes and taxa",
			Parameters: operations.ParameterSchema{
				required("rnaseq", operations.TypeObject, "transcriptomics dataset"),
				required("microbiome", operations.TypeObject, "microbiome dataset"),
				choice("method", "Spearman", "Spearman", "Pearson", "Kendall"),
			},
			Outputs: []string{"method", "n_correlations", "correlations"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				correlations := []interface{}{
					map[string]interface{}{"gene": "IL6", "taxon": "Bacteroides", "correlation": 0.75, "pvalue": 0.001},
					map[string]interface{}{"gene": "TNF", "taxon": "Lactobacillus", "correlation": -0.65, "pvalue": 0.005},
					map[string]interface{}{"gene": "IFNG", "taxon": "Faecalibacterium", "correlation": 0.58, "pvalue": 0.01},
				}
				return operations.Result{
					"method":         stringParam(p, "method", "Spearman"),
					"n_correlations": len(correlations),
					"correlations":   correlations,
				}
			}),
		},
		{
			Name:        "network-integration",
			Description: "Latent factor integration across omics layers (MOFA+)",
			Parameters: operations.ParameterSchema{
				required("rnaseq", operations.TypeObject, "transcriptomics dataset"),
				required("microbiome", operations.TypeObject, "microbiome dataset"),
				required("clinical", operations.TypeObject, "clinical dataset"),
				{Name: "factors", Type: operations.TypeInteger, Default: 5, Constraint: "gte=1,lte=50"},
			},
			Outputs: []string{"method", "n_latent_factors", "clusters", "variance_explained"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"method":           "MOFA+",
					"n_latent_factors": intParam(p, "factors", 5),
					"clusters":         3,
					"variance_explained": map[string]interface{}{
						"transcriptomics": 0.35,
						"microbiome":      0.28,
						"clinical":        0.45,
					},
				}
			}),
		},
		{
			Name:        "multiomics-joint",
			Description: "Joint module discovery across transcriptome, microbiome and clinical data",
			Parameters: operations.ParameterSchema{
				required("rnaseq", operations.TypeObject, "transcriptomics dataset"),
				required("microbiome", operations.TypeObject, "microbiome dataset"),
				optional("clinical", operations.TypeObject, map[string]interface{}{}, "clinical dataset"),
			},
			Outputs: []string{"modules", "summary", "top_genes"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"modules": []interface{}{
						map[string]interface{}{
							"id":                   "Module_1",
							"description":          "Inflammation response",
							"genes":                []interface{}{"IL6", "TNF", "IFNG", "CXCL8"},
							"taxa":                 []interface{}{"Bacteroides", "Escherichia"},
							"clinical_association": "disease_severity",
							"correlation":          0.78,
						},
						map[string]interface{}{
							"id":                   "Module_2",
							"description":          "Metabolic pathway",
							"genes":                []interface{}{"PPARG", "FABP1", "CPT1A"},
							"taxa":                 []interface{}{"Lactobacillus", "Bifidobacterium"},
							"clinical_association": "BMI",
							"correlation":          0.65,
						},
					},
					"summary": map[string]interface{}{
						"total_modules":            2,
						"significant_associations": 15,
						"top_genes":                20,
						"top_taxa":                 10,
					},
					"top_genes": []interface{}{"IL6", "TNF", "IFNG", "CXCL8", "PPARG", "FABP1", "CPT1A"},
				}
			}),
		},
		{
			Name:        "gene-enrichment",
			Description: "Pathway enrichment of a gene list (enrichr)",
			Parameters: operations.ParameterSchema{
				{Name: "gene_list", Type: operations.TypeList, Required: true, Constraint: "min=1"},
				choice("database", "KEGG", "KEGG", "GO", "Reactome"),
			},
			Outputs: []string{"method", "pathways"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"method":   "enrichr",
					"database": stringParam(p, "database", "KEGG"),
					"pathways": []interface{}{
						map[string]interface{}{"pathway": "KEGG:IL-17 signaling", "pvalue": 1e-10, "genes": 15},
						map[string]interface{}{"pathway": "GO:inflammatory response", "pvalue": 1e-8, "genes": 25},
						map[string]interface{}{"pathway": "REAC:cytokine signaling", "pvalue": 1e-6, "genes": 20},
					},
					"input_genes": len(listParam(p, "gene_list")),
				}
			}),
		},
	}
}
