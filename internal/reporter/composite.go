package reporter

// CompositeReporter fans out events to multiple reporters.
type CompositeReporter struct {
	reporters []Reporter
}

// NewCompositeReporter creates a composite reporter.
func NewCompositeReporter(reporters ...Reporter) *CompositeReporter {
	return &CompositeReporter{reporters: reporters}
}

func (c *CompositeReporter) Hardware(summary HardwareSummary) {
	for _, r := range c.reporters {
		r.Hardware(summary)
	}
}

func (c *CompositeReporter) Initialization(summary RunSummary) {
	for _, r := range c.reporters {
		r.Initialization(summary)
	}
}

func (c *CompositeReporter) FOVStarted(info FOVStartInfo) {
	for _, r := range c.reporters {
		r.FOVStarted(info)
	}
}

func (c *CompositeReporter) StageProgress(update StageProgress) {
	for _, r := range c.reporters {
		r.StageProgress(update)
	}
}

func (c *CompositeReporter) FOVComplete(result FOVResult) {
	for _, r := range c.reporters {
		r.FOVComplete(result)
	}
}

func (c *CompositeReporter) BatchProgress(progress BatchProgress) {
	for _, r := range c.reporters {
		r.BatchProgress(progress)
	}
}

func (c *CompositeReporter) RunComplete(outcome RunOutcome) {
	for _, r := range c.reporters {
		r.RunComplete(outcome)
	}
}

func (c *CompositeReporter) Warning(message string) {
	for _, r := range c.reporters {
		r.Warning(message)
	}
}

func (c *CompositeReporter) Error(err ReporterError) {
	for _, r := range c.reporters {
		r.Error(err)
	}
}

func (c *CompositeReporter) OperationComplete(message string) {
	for _, r := range c.reporters {
		r.OperationComplete(message)
	}
}

func (c *CompositeReporter) Verbose(message string) {
	for _, r := range c.reporters {
		r.Verbose(message)
	}
}
