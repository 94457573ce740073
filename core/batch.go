package core

// Batch is an opaque unit of input data plus its 0-based index within the
// current source.
type Batch struct {
	Index   int
	Payload any
}

// Sized is implemented by batch payloads that know their own size. It is used
// to derive a batch-size hint when a step output does not declare one.
type Sized interface {
	Len() int
}

// SourceDescriptor locates the current source among N parallel sources.
type SourceDescriptor struct {
	Index int // 0-based position among Count sources
	Count int // total number of sources
}

// Multi reports whether more than one source takes part in the evaluation.
func (d SourceDescriptor) Multi() bool { return d.Count > 1 }

// Step argument names in insertion order.
const (
	ArgBatch       = "batch"
	ArgBatchIndex  = "batch_idx"
	ArgSourceIndex = "dataloader_idx"
)

// StepArgs are the arguments passed to a step function. SourceIndex is only
// set when more than one source takes part in the evaluation; adapters must
// ignore it when nil.
type StepArgs struct {
	Batch       any
	BatchIndex  int
	SourceIndex *int
}

// NewStepArgs builds the arguments for a batch. The source index is included
// iff the descriptor describes more than one source, regardless of mode.
func NewStepArgs(batch Batch, src SourceDescriptor) StepArgs {
	args := StepArgs{Batch: batch.Payload, BatchIndex: batch.Index}
	if src.Multi() {
		idx := src.Index
		args.SourceIndex = &idx
	}
	return args
}

// Source returns the source index and whether it is present.
func (a StepArgs) Source() (int, bool) {
	if a.SourceIndex == nil {
		return 0, false
	}
	return *a.SourceIndex, true
}

// Keys returns the argument names in their fixed insertion order.
func (a StepArgs) Keys() []string {
	if a.SourceIndex == nil {
		return []string{ArgBatch, ArgBatchIndex}
	}
	return []string{ArgBatch, ArgBatchIndex, ArgSourceIndex}
}

// Get looks up an argument by name. The second result is false for unknown
// names and for the source index when it is absent.
func (a StepArgs) Get(key string) (any, bool) {
	switch key {
	case ArgBatch:
		return a.Batch, true
	case ArgBatchIndex:
		return a.BatchIndex, true
	case ArgSourceIndex:
		if a.SourceIndex == nil {
			return nil, false
		}
		return *a.SourceIndex, true
	default:
		return nil, false
	}
}
