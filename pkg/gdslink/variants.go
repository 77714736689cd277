package gdslink

// Algorithm execution modes. Stream is the default.
const (
	ModeStream = "stream"
	ModeStats  = "stats"
	ModeMutate = "mutate"
	ModeWrite  = "write"
)

func emptyList() any   { return []any{} }
func emptyObject() any { return map[string]any{} }
func falseValue() any  { return false }
func knnTopK() any     { return 10 }

func graphName() Field {
	return Field{Name: "graphName", Type: FieldName, Required: true}
}

func failIfMissing() Field {
	return Field{Name: "failIfMissing", Type: FieldBool, Default: falseValue}
}

func names(name string) Field {
	return Field{Name: name, Type: FieldNames, Default: emptyList}
}

func requiredName(name string) Field {
	return Field{Name: name, Type: FieldName, Required: true}
}

func config(name string) Field {
	return Field{Name: name, Type: FieldAny}
}

func catalog(op string, fields ...Field) Variant {
	return Variant{Facade: FacadeGraphStoreCatalog, Op: op, Fields: fields}
}

func algorithm(op string, fields ...Field) Variant {
	fields = append([]Field{
		graphName(),
		{Name: "mode", Type: FieldString, Enum: []string{ModeStream, ModeStats, ModeMutate, ModeWrite}, Default: func() any { return ModeStream }},
	}, fields...)
	return Variant{Facade: FacadeAlgorithms, Op: op, Fields: fields, Open: true}
}

// BuiltinVariants returns the closed set of calls the GDS boundary serves.
func BuiltinVariants() []Variant {
	knn := []Field{names("nodeProperties"), {Name: "topK", Type: FieldInteger, Default: knnTopK}}

	return []Variant{
		catalog("list_graphs"),
		catalog("graph_memory_usage", graphName()),
		catalog("drop_graph", graphName(), failIfMissing()),
		catalog("drop_graphs", names("graphNames"), failIfMissing()),
		catalog("drop_node_properties", graphName(), names("nodeProperties"), failIfMissing()),
		catalog("drop_relationships", graphName(), requiredName("relationshipType")),
		catalog("stream_node_properties", graphName(), names("nodeProperties")),
		catalog("stream_relationship_properties", graphName(), names("relationshipProperties")),
		catalog("stream_relationships", graphName(), names("relationshipTypes")),
		catalog("write_node_properties", graphName(), names("nodeProperties")),
		catalog("write_node_labels", graphName(), names("nodeLabels")),
		catalog("write_relationship_properties", graphName(), names("relationshipProperties")),
		catalog("write_relationships", graphName(), requiredName("relationshipType")),
		catalog("export_to_csv", graphName(), requiredName("exportPath")),
		catalog("export_to_database", graphName(), requiredName("targetDatabase")),
		catalog("project_native", config("projectionConfig")),
		catalog("project_generic", config("projectionConfig")),
		catalog("generate_graph", config("generationConfig")),
		catalog("sample_graph", graphName(), config("samplingConfig")),

		{Facade: FacadeGraphStore, Op: "put", Fields: []Field{
			graphName(),
			{Name: "snapshot", Type: FieldObject, Required: true},
		}},

		{Facade: FacadeFormEval, Op: "evaluate", Fields: []Field{
			graphName(),
			{Name: "outputGraphName", Type: FieldName},
			{Name: "program", Type: FieldObject, Required: true},
			{Name: "artifacts", Type: FieldObject, Default: emptyObject},
		}},

		algorithm("knn", knn...),
		algorithm("node_similarity", Field{Name: "topK", Type: FieldInteger}),
		algorithm("filtered_knn", knn...),
		algorithm("filtered_node_similarity", Field{Name: "topK", Type: FieldInteger}),
		algorithm("graph_sage"),
		algorithm("node2vec", Field{Name: "embeddingDimension", Type: FieldInteger}),
		algorithm("fastrp", Field{Name: "embeddingDimension", Type: FieldInteger}),
		algorithm("hash_gnn"),
		algorithm("gat"),
	}
}
