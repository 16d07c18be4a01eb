package prompts

// ResearchData feeds the research user prompt
type ResearchData struct {
	Brief string
}

// ResearchCorrectionData lists the sections the previous response lacked
type ResearchCorrectionData struct {
	Missing []string
}

// SynthesisSystemData carries the data path fixed into every generated program
type SynthesisSystemData struct {
	DataPath string
}

// SynthesisData feeds the synthesis user prompt
type SynthesisData struct {
	Spec string
}

// SynthesisCorrectionData describes why the previous draft was unusable
type SynthesisCorrectionData struct {
	Problem string
}

// SourceLine is one line of a program, numbered from 1
type SourceLine struct {
	Line int
	Text string
}

// FailureNote summarises an earlier failed attempt
type FailureNote struct {
	Index     int
	Outcome   string
	Signature string
}

// DebugData feeds the debug user prompt
type DebugData struct {
	Source     string
	Outcome    string
	ExitCode   int
	Diagnostic string
	Lines      int
	Offending  *SourceLine
	History    []FailureNote
}

// OptimizeSystemData describes the objective of the mutation
type OptimizeSystemData struct {
	MetricName    string
	MinTrades     int
	DrawdownLimit string
}

// ProgramView is a program with its rendered stats
type ProgramView struct {
	Source string
	Stats  string
}

// VariantView is one recent optimization variant
type VariantView struct {
	Index   int
	Outcome string
	Verdict string
	Stats   string
	Source  string
}

// OptimizeData feeds the optimization user prompt
type OptimizeData struct {
	MetricName string
	BestMetric string
	Best       ProgramView
	Recent     []VariantView
}
