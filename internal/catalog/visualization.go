package catalog

import (
	"emprofiler/internal/operations"
)

// PlotTypes are the chart kinds the plot operation can describe
var PlotTypes = []string{
	"barplot", "boxplot", "heatmap", "volcano",
	"network", "scatter", "pca", "umap", "tsne",
	"dotplot", "enrichplot", "enrichcurve", "sankey", "structure",
	"fitline", "auto",
}

func visualizationOperations() []operations.OperationSpec {
	return []operations.OperationSpec{
		{
			Name:        "plot",
			Description: "Describe a figure for the plotting backend",
			Parameters: operations.ParameterSchema{
				{Name: "plot_type", Type: operations.TypeString, Required: true, Options: PlotTypes},
				optional("data", operations.TypeAny, nil, "values to plot"),
				optional("options", operations.TypeObject, map[string]interface{}{}, "backend specific settings"),
				optional("output_dir", operations.TypeString, "figures", "where the figure is written"),
			},
			Outputs: []string{"plot_type", "file", "params"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				plotType := stringParam(p, "plot_type", "barplot")
				params, _ := p["options"].(map[string]interface{})
				if params == nil {
					params = map[string]interface{}{}
				}
				return operations.Result{
					"plot_type": plotType,
					"file":      stringParam(p, "output_dir", "figures") + "/" + plotType + ".png",
					"params":    params,
				}
			}),
		},
		{
			Name:        "visualization-config",
			Description: "Rendering configuration for an integration result",
			Parameters: operations.ParameterSchema{
				{Name: "analysis_type", Type: operations.TypeString, Required: true, Options: []string{"heatmap", "network", "volcano"}},
			},
			Outputs: []string{"analysis_type", "config"},
			Collaborator: simulated(func(p operations.Params) operations.Result {
				configs := map[string]map[string]interface{}{
					"heatmap": {"type": "clustermap", "method": "ward", "metric": "correlation"},
					"network": {"type": "cytoscape", "layout": "force-directed", "interaction_score": 0.5},
					"volcano": {"type": "ggplot", "fc_threshold": 1.5, "pvalue_threshold": 0.05},
				}
				kind := stringParam(p, "analysis_type", "heatmap")
				return operations.Result{"analysis_type": kind, "config": configs[kind]}
			}),
		},
	}
}
