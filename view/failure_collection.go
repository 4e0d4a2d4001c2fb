package view

type FailureCollection struct {
	Failures []Failure `json:"_data"`
	Offset   int64     `json:"_offset"`
	Limit    int64     `json:"_limit"`
	Total    int64     `json:"_total"`
}

func NewFailureCollection(failures []Failure, offset, limit, total int64) FailureCollection {
	if failures == nil {
		failures = []Failure{}
	}
	return FailureCollection{
		Failures: failures,
		Offset:   offset,
		Limit:    limit,
		Total:    total,
	}
}

func (c FailureCollection) HasNextBatch() bool {
	return c.Offset+int64(len(c.Failures)) < c.Total
}
