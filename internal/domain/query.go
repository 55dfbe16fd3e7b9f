package domain

// GeneratedQuery is the raw output of the language model for a query
// request. It is ephemeral and must pass the sanitizer before execution.
type GeneratedQuery struct {
	Engine      EngineKind
	Text        string
	Explanation string
}

// ColumnMeta names and types one result column.
type ColumnMeta struct {
	Name string
	Type string
}

// QueryResult is the normalized outcome of executing a sanitized query.
// Row values are restricted to int64, float64, bool, string, and nil;
// everything else is rendered to a string by the engine driver.
type QueryResult struct {
	Columns   []ColumnMeta
	Rows      [][]any
	RowCount  int
	ElapsedMs int64
	Status    string
	// Substitutions lists inline literals that replaced leftover parameter
	// placeholders before execution, for surfacing to the caller.
	Substitutions []string
}

// RankedTable is one schema fragment scored for relevance to a question.
type RankedTable struct {
	TableID string
	Score   float32
	Text    string
}

// Relationship is a foreign-key edge rendered for the prompt context.
type Relationship struct {
	SrcTable  string
	SrcColumn string
	DstTable  string
	DstColumn string
	Heuristic bool
}

// PromptContext is the assembled, ranked context handed to the language
// model alongside the user's question. It is discarded after the call.
type PromptContext struct {
	Engine        EngineKind
	DatabaseName  string
	RankedTables  []RankedTable
	Relationships []Relationship
	JoinHints     []string
	MemoryKey     string
}
