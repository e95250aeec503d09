package kafka

import "time"

// ProducerOption configures Producer.
type ProducerOption func(*ProducerConfig)

// ProducerConfig holds the writer settings the gateway tunes.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	BatchTimeout time.Duration
	HashByKey    bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

// WithCompression selects none, gzip, snappy, lz4 or zstd.
func WithCompression(name string) ProducerOption {
	return func(c *ProducerConfig) {
		if name != "" {
			c.Compression = name
		}
	}
}

// WithRequiredAcks sets required acknowledgements (-1 = all).
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) { c.RequiredAcks = acks }
}

// WithBatchTimeout bounds how long a partial batch waits before a flush.
// Synchronous publishing pays this on every call, so keep it small.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if d > 0 {
			c.BatchTimeout = d
		}
	}
}

// WithHashByKey routes equal keys to the same partition.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) { c.HashByKey = hash }
}

// ReaderOption configures Reader.
type ReaderOption func(*ReaderConfig)

// ReaderConfig holds partition reader configuration.
type ReaderConfig struct {
	Brokers   []string
	Topic     string
	Partition int
	MinBytes  int
	MaxBytes  int
	MaxWait   time.Duration
}

// WithReaderBrokers sets Kafka brokers.
func WithReaderBrokers(brokers []string) ReaderOption {
	return func(c *ReaderConfig) {
		c.Brokers = brokers
	}
}

// WithReaderTopic sets the topic and partition to read.
func WithReaderTopic(topic string, partition int) ReaderOption {
	return func(c *ReaderConfig) {
		c.Topic = topic
		c.Partition = partition
	}
}

// WithReaderFetch sets fetch min/max bytes.
func WithReaderFetch(minBytes, maxBytes int) ReaderOption {
	return func(c *ReaderConfig) {
		if minBytes > 0 {
			c.MinBytes = minBytes
		}
		if maxBytes > 0 {
			c.MaxBytes = maxBytes
		}
	}
}

// WithReaderMaxWait bounds how long a fetch waits for MinBytes.
func WithReaderMaxWait(d time.Duration) ReaderOption {
	return func(c *ReaderConfig) {
		if d > 0 {
			c.MaxWait = d
		}
	}
}
