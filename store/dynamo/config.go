package dynamo

import "time"

// Config holds configuration for the DynamoDB adapter.
type Config struct {
	// TablePrefix is prepended to every collection name to form the table name.
	// Default: "" (collection name used as-is)
	TablePrefix string

	// EventualReads switches GetItem, BatchGetItem and Scan to eventually
	// consistent reads. Path reads always use TransactGetItems.
	// Default: false (strongly consistent)
	EventualReads bool

	// BatchRetryTimeout bounds how long unprocessed BatchGetItem keys are retried.
	// Default: 10s
	BatchRetryTimeout time.Duration

	// BatchRetryInterval is the first delay before retrying unprocessed keys;
	// it doubles per attempt up to 1s.
	// Default: 50ms
	BatchRetryInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchRetryTimeout:  10 * time.Second,
		BatchRetryInterval: 50 * time.Millisecond,
	}
}

// TableName returns the DynamoDB table backing collection.
func (c Config) TableName(collection string) string {
	return c.TablePrefix + collection
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.BatchRetryTimeout <= 0 {
		c.BatchRetryTimeout = 10 * time.Second
	}
	if c.BatchRetryInterval <= 0 {
		c.BatchRetryInterval = 50 * time.Millisecond
	}
	if c.BatchRetryInterval > c.BatchRetryTimeout {
		c.BatchRetryInterval = c.BatchRetryTimeout
	}
}
