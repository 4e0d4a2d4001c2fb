// Publishes the rows of a CSV file to kafka so that httpsink has a reproducible input.
// CSV columns: topic, payload, key, publish_offset_millis and an optional destination which is sent
// as the override header of the record. Rows are published once their offset from the start time
// has passed, so a file can describe a load profile.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/davidoram/httpsink/core"
	"golang.org/x/time/rate"
)

// Row is one message to publish
type Row struct {
	Topic        string
	Payload      string
	Key          string
	PublishAfter time.Duration
	Destination  string
}

// ReadRows parses the CSV, skipping the header row, and orders the rows by publish offset
func ReadRows(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	// Ignore the header row
	if _, err := reader.Read(); err != nil {
		return nil, err
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(records))
	for i, record := range records {
		if len(record) < 4 {
			return nil, fmt.Errorf("row %d has %d columns, want at least 4", i+2, len(record))
		}
		millis, err := strconv.Atoi(record[3])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid publish_offset_millis: %w", i+2, err)
		}
		row := Row{
			Topic:        record[0],
			Payload:      record[1],
			Key:          record[2],
			PublishAfter: time.Duration(millis) * time.Millisecond,
		}
		if len(record) > 4 {
			row.Destination = record[4]
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].PublishAfter < rows[j].PublishAfter })
	return rows, nil
}

// ToMessage builds the kafka message for row, the destination goes in overrideHeader
func ToMessage(row Row, overrideHeader string) *kafka.Message {
	topic := row.Topic
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          []byte(row.Payload),
		Key:            []byte(row.Key),
	}
	if row.Destination != "" {
		msg.Headers = []kafka.Header{{Key: overrideHeader, Value: []byte(row.Destination)}}
	}
	return msg
}

func logDeliveryReports(ctx context.Context, producer *kafka.Producer) {
	for {
		select {
		case e := <-producer.Events():
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					slog.Info("message delivery failed",
						slog.String("key", string(ev.Key)),
						slog.String("topic", *ev.TopicPartition.Topic),
						slog.Any("error", ev.TopicPartition.Error))
				}
			case kafka.Error:
				if ev.Code() == kafka.ErrAllBrokersDown {
					slog.Error("All brokers down", slog.Any("error", ev))
					os.Exit(1)
				}
				slog.Info("producer error", slog.Any("error", ev))
			default:
				if e != nil {
					slog.Info("Event ignored", slog.String("event", e.String()))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// produce retries once after a pause when the local queue is full
func produce(producer *kafka.Producer, msg *kafka.Message) error {
	err := producer.Produce(msg, nil)
	if err == nil {
		return nil
	}
	if kerr, ok := err.(kafka.Error); !ok || kerr.Code() != kafka.ErrQueueFull {
		return err
	}
	slog.Info("Queue full, pausing and retrying...")
	time.Sleep(1 * time.Second)
	if err := producer.Produce(msg, nil); err != nil {
		return err
	}
	slog.Info("... retried ok")
	return nil
}

// testConnection reports whether the cluster answers a metadata request
func testConnection(servers string) bool {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": servers})
	if err != nil {
		slog.Info("admin client", slog.Any("error", err))
		return false
	}
	defer admin.Close()
	_, err = admin.GetMetadata(nil, true, 5000)
	return err == nil
}

func main() {
	csvFile := flag.String("csv", "/data/input.csv", "Path to the CSV file, defaults to /data/input.csv")
	kafkaBootstrapServers := flag.String("kafka", "localhost:9092", "Kafka bootstrap servers")
	overrideHeader := flag.String("override-header", core.DefaultOverrideHeader, "Header carrying the destination column")
	maxRate := flag.Float64("rate", 0, "Maximum messages per second, 0 is unlimited")
	flag.Parse()
	slog.Info("csv-publish started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	file, err := os.Open(*csvFile)
	if err != nil {
		slog.Error("open csv", slog.Any("error", err), slog.String("file", *csvFile))
		os.Exit(1)
	}
	rows, err := ReadRows(file)
	file.Close()
	if err != nil {
		slog.Error("read csv", slog.Any("error", err), slog.String("file", *csvFile))
		os.Exit(1)
	}
	slog.Info("loaded messages for publishing", slog.Int("total_msgs", len(rows)))

	// Wait for Kafka to be available
	connected := testConnection(*kafkaBootstrapServers)
	waitUntil := time.Now().Add(60 * time.Second)
	for !connected && time.Now().Before(waitUntil) {
		slog.Info("Waiting for Kafka to be available", slog.String("servers", *kafkaBootstrapServers))
		time.Sleep(5 * time.Second)
		connected = testConnection(*kafkaBootstrapServers)
	}
	if !connected {
		slog.Error("Kafka not available", slog.String("servers", *kafkaBootstrapServers))
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"client.id":         "csv-publish",
		"bootstrap.servers": *kafkaBootstrapServers,
		"linger.ms":         1000,
		"retries":           2,
		"acks":              "all",
	})
	if err != nil {
		slog.Error("Error creating Kafka producer", slog.Any("error", err))
		os.Exit(1)
	}
	go logDeliveryReports(ctx, producer)

	// Wait for message deliveries before shutting down producer
	defer func() {
		slog.Info("Flushing producer")
		unpublished := producer.Flush(15 * 1000)
		slog.Info("Closing producer", slog.Int("unpublished_messages", unpublished))
		producer.Close()
	}()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if *maxRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(*maxRate), 1)
	}

	start := time.Now()
	nextLogTime := start.Add(10 * time.Second)
	for i, row := range rows {
		if wait := time.Until(start.Add(row.PublishAfter)); wait > 0 {
			if err := core.SleepContext(ctx, wait); err != nil {
				slog.Info("stopped", slog.Int("published", i))
				return
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			slog.Info("stopped", slog.Int("published", i))
			return
		}
		if err := produce(producer, ToMessage(row, *overrideHeader)); err != nil {
			slog.Error("Kafka produce error", slog.Any("error", err))
			return
		}
		if time.Now().After(nextLogTime) {
			slog.Info("update", slog.Int("published", i+1), slog.Int("total", len(rows)))
			nextLogTime = time.Now().Add(10 * time.Second)
		}
	}
	slog.Info("Finished", slog.Int("published", len(rows)))
}
