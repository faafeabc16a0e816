package catalog

import (
	"fmt"

	"emprofiler/internal/operations"
)

func singlecellOperations() []operations.OperationSpec {
	return []operations.OperationSpec{
		{
			Name:        "sc-load",
			Description: "Load a single-cell count matrix",
			Parameters: operations.ParameterSchema{
				required("file_path", operations.TypeString, "matrix location"),
				choice("format", "mtx", "mtx", "h5", "csv", "10x"),
			},
			Outputs: []string{"cells", "genes", "format", "sparsity"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"cells":    5000,
					"genes":    20000,
					"format":   stringParam(p, "format", "mtx"),
					"sparsity": 0.92,
				}
			}),
		},
		{
			Name:        "sc-preprocess",
			Description: "QC filtering, normalization and feature selection",
			Parameters: operations.ParameterSchema{
				optional("cells", operations.TypeInteger, 5000, "input cell count"),
				{Name: "n_top_genes", Type: operations.TypeInteger, Default: 2000, Constraint: "gte=100"},
			},
			Outputs: []string{"filtered_cells", "filtered_genes", "steps"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				cells := intParam(p, "cells", 5000)
				return operations.Result{
					"filtered_cells": cells * 9 / 10,
					"filtered_genes": 15000,
					"steps": []interface{}{
						"Quality control",
						"Normalization: LogNormalize",
						"Feature selection: highly variable genes",
					},
				}
			}),
		},
		{
			Name:        "dimension-reduction",
			Description: "Dimensionality reduction (PCA, tSNE, UMAP, PHATE)",
			Parameters: operations.ParameterSchema{
				choice("method", "UMAP", "PCA", "tSNE", "UMAP", "PHATE"),
				{Name: "n_components", Type: operations.TypeInteger, Default: 2, Constraint: "gte=1,lte=50"},
				optional("n_cells", operations.TypeInteger, 4500, "cells after filtering"),
			},
			Outputs: []string{"method", "n_components", "coordinates", "variance_explained"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				method := stringParam(p, "method", "UMAP")
				var variance interface{}
				if method == "PCA" {
					variance = 0.45
				}
				return operations.Result{
					"method":       method,
					"n_components": intParam(p, "n_components", 2),
					"coordinates": map[string]interface{}{
						"x": []interface{}{-1.2, 0.4, 2.1, -0.3, 1.7},
						"y": []interface{}{0.8, -1.5, 0.2, 1.1, -0.6},
					},
					"variance_explained": variance,
				}
			}),
		},
		{
			Name:        "cell-clustering",
			Description: "Graph or centroid based cell clustering",
			Parameters: operations.ParameterSchema{
				choice("method", "Louvain", "K-means", "Louvain", "Leiden", "Hierarchical"),
				{Name: "resolution", Type: operations.TypeNumber, Default: 0.8, Constraint: "gt=0,lte=5"},
				optional("n_cells", operations.TypeInteger, 4500, "cells after filtering"),
			},
			Outputs: []string{"method", "resolution", "n_clusters", "clusters", "cluster_sizes"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				const n = 8
				clusters := make([]interface{}, n)
				for i := range clusters {
					clusters[i] = i
				}
				return operations.Result{
					"method":        stringParam(p, "method", "Louvain"),
					"resolution":    floatParam(p, "resolution", 0.8),
					"n_clusters":    n,
					"clusters":      clusters,
					"cluster_sizes": clusterSizes(intParam(p, "n_cells", 4500), n),
				}
			}),
		},
		{
			Name:        "marker-genes",
			Description: "Cluster marker detection",
			Parameters: operations.ParameterSchema{
				required("clusters", operations.TypeList, "cluster identifiers"),
				choice("method", "Wilcoxon", "Wilcoxon", "MAST", "DESeq2", "t-test"),
			},
			Outputs: []string{"method", "n_markers", "markers"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				markers := []interface{}{
					map[string]interface{}{"gene": "CD3D", "cluster": 0, "avg_logFC": 2.5, "pvalue": 1e-50},
					map[string]interface{}{"gene": "CD8A", "cluster": 0, "avg_logFC": 2.3, "pvalue": 1e-45},
					map[string]interface{}{"gene": "MS4A1", "cluster": 1, "avg_logFC": 3.1, "pvalue": 1e-60},
					map[string]interface{}{"gene": "CD79A", "cluster": 1, "avg_logFC": 2.8, "pvalue": 1e-55},
					map[string]interface{}{"gene": "NKG7", "cluster": 2, "avg_logFC": 2.1, "pvalue": 1e-40},
					map[string]interface{}{"gene": "GZMA", "cluster": 2, "avg_logFC": 1.9, "pvalue": 1e-38},
				}
				return operations.Result{
					"method":    stringParam(p, "method", "Wilcoxon"),
					"n_markers": len(markers),
					"markers":   markers,
				}
			}),
		},
		{
			Name:        "trajectory",
			Description: "Pseudotime trajectory inference (Monocle3)",
			Parameters: operations.ParameterSchema{
				optional("root_cluster", operations.TypeInteger, 0, "cluster holding root cells"),
			},
			Outputs: []string{"method", "pseudotime_range", "branches", "root_cells"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				return operations.Result{
					"method":           "Monocle3",
					"pseudotime_range": []interface{}{0, 100},
					"branches":         3,
					"root_cells":       50,
				}
			}),
		},
		{
			Name:        "cell-type-annotation",
			Description: "Assign cell types to clusters",
			Parameters: operations.ParameterSchema{
				required("cluster_sizes", operations.TypeObject, "clusters to annotate"),
			},
			Outputs: []string{"annotations", "confidence"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				types := []string{
					"CD4+ T cells", "CD8+ T cells", "B cells", "NK cells",
					"Monocytes", "Dendritic cells", "Megakaryocytes", "Erythrocytes",
				}
				annotations := make(map[string]interface{}, len(types))
				for i, t := range types {
					annotations[fmt.Sprintf("Cluster_%d", i)] = t
				}
				return operations.Result{"annotations": annotations, "confidence": 0.85}
			}),
		},
	}
}
