package core

import "time"

const MinWait = time.Millisecond * 100

// Mode selects how records are turned into requests
type Mode string

const (
	ModeSingle Mode = "single"
	ModeBatch  Mode = "batch"
)

// BatchFormat frames a batch body as Prefix + f1 + Separator + f2 ... + fn + Suffix
type BatchFormat struct {
	Prefix    string
	Suffix    string
	Separator string
}

func DefaultBatchFormat() BatchFormat {
	return BatchFormat{Prefix: "", Suffix: "\n", Separator: "\n"}
}

type Config struct {
	Mode           Mode
	MaxBatchSize   int // records per request in batch mode
	MaxBatchBytes  int // body bytes per request in batch mode, 0 for no limit
	Format         BatchFormat
	OverrideHeader string // record header that overrides the destination, "" means DefaultOverrideHeader
	Parallelism    int    // destination streams delivered at once, <= 1 is sequential
	FailFast       bool   // stop a destination stream after its first failure

	// Subscription polling
	BatchSize int
	MaxWait   time.Duration // Maximum time to wait for a batch to fill up
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModeSingle,
		MaxBatchSize:   500,
		Format:         DefaultBatchFormat(),
		OverrideHeader: DefaultOverrideHeader,
		Parallelism:    1,
		FailFast:       true,
		BatchSize:      100,
		MaxWait:        time.Second,
	}
}

func (c Config) WithMaxWait(wait time.Duration) Config {
	c.MaxWait = MinWait
	if wait > MinWait {
		c.MaxWait = wait
	}
	return c
}

func (c Config) maxRecords() int {
	if c.Mode != ModeBatch {
		return 1
	}
	if c.MaxBatchSize < 1 {
		return 1
	}
	return c.MaxBatchSize
}
