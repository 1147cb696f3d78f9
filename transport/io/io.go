// Package io provides a journal-file transport for floodline. Published
// messages append to a newline-delimited JSON file and subscribers tail
// it, which makes runs replayable and diffable without any broker at
// all. Every subscriber reads the full journal; there is no group
// sharing.
package io

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/streamhaus/floodline/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultJournalPath is the journal file used when none is configured.
const DefaultJournalPath = "floodline.journal"

// tailInterval is how long the tailer sleeps at end of journal before
// checking for new entries.
const tailInterval = 50 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(path string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{path: path, logger: logger}, nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(path string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{path: path, logger: logger}, nil
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new journal transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	path := cfg.GetIOFile()
	if path == "" {
		path = DefaultJournalPath
	}

	pub, err := PublisherFactory(path, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	sub, err := SubscriberFactory(path, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// journalEntry is the JSON structure of one journal line.
type journalEntry struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
	Topic    string            `json:"topic"`
}

// Publisher appends messages to the journal file.
type Publisher struct {
	path   string
	logger watermill.LoggerAdapter
	mu     sync.Mutex
}

// Publish appends messages to the journal.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		entry := journalEntry{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
			Topic:    topic,
		}

		b, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		if _, err := f.Write(b); err != nil {
			return err
		}
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber tails messages from the journal file.
type Subscriber struct {
	path   string
	logger watermill.LoggerAdapter
}

// Subscribe tails the journal and emits entries for the topic.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out := make(chan *message.Message)

	go func() {
		defer close(out)

		f, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0600)
		if err != nil {
			s.logger.Error("Failed to open journal", err, nil)
			return
		}
		defer f.Close()

		var lastPos int64
		reader := bufio.NewReader(f)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				line, err := reader.ReadBytes('\n')
				if err != nil {
					if err == io.EOF {
						if !s.waitForMore(f, reader, &lastPos) {
							return
						}
						continue
					}
					s.logger.Error("Failed to read journal", err, nil)
					return
				}

				// Update position after successful read
				currentPos, _ := f.Seek(0, io.SeekCurrent)
				lastPos = currentPos - int64(reader.Buffered())

				if !s.emit(ctx, out, line, topic) {
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the subscriber.
func (s *Subscriber) Close() error {
	return nil
}

func (s *Subscriber) waitForMore(f *os.File, reader *bufio.Reader, lastPos *int64) bool {
	currentPos, _ := f.Seek(0, io.SeekCurrent)
	currentPos -= int64(reader.Buffered())

	if currentPos > *lastPos {
		*lastPos = currentPos
	}

	time.Sleep(tailInterval)

	if _, err := f.Seek(*lastPos, io.SeekStart); err != nil {
		s.logger.Error("Failed to seek journal", err, nil)
		return false
	}
	reader.Reset(f)
	return true
}

func (s *Subscriber) emit(ctx context.Context, out chan<- *message.Message, line []byte, topic string) bool {
	var entry journalEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		s.logger.Error("Failed to unmarshal journal entry", err, nil)
		return true
	}

	if entry.Topic != topic {
		return true
	}

	msg := message.NewMessage(entry.UUID, entry.Payload)
	msg.Metadata = entry.Metadata

	select {
	case out <- msg:
		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			s.logger.Debug("Message nacked", watermill.LogFields{"uuid": msg.UUID})
		case <-ctx.Done():
			return false
		}
	case <-ctx.Done():
		return false
	}
	return true
}
