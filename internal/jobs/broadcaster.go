package jobs

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/railvision/wagon-capture/internal/logger"
)

// SerializedEvent holds a job update pre-serialized in both wire formats so
// it is encoded once regardless of the number of subscribers.
type SerializedEvent struct {
	JobID        string
	Terminal     bool
	JSONData     []byte // JSON object
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// Broadcaster fans job updates out to subscribers. Slow subscribers miss
// events rather than blocking the workers.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	closed  bool
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[int]chan *SerializedEvent)}
}

// Subscribe adds a client and returns its id and event channel. The channel
// is closed by Unsubscribe or Close.
func (b *Broadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, 16)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch

	logger.Debug("JobEvents", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug("JobEvents", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Clients returns the number of subscribers.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// Publish serializes job and sends it to every subscriber.
func (b *Broadcaster) Publish(job Job) {
	event, err := Serialize(job)
	if err != nil {
		logger.Error("JobEvents", "Serialize job %s: %v", job.ID, err)
		return
	}
	b.broadcast(event)
}

func (b *Broadcaster) broadcast(event *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.clients {
		select {
		case ch <- event:
			continue
		default:
		}
		if !event.Terminal {
			continue // subscriber is behind; drop this update for it
		}
		makeRoom(ch)
		select {
		case ch <- event:
		default:
			logger.Warn("JobEvents", "Client #%d missed the final event of job %s", id, event.JobID)
		}
	}
}

// makeRoom frees a slot in a full channel by dropping its oldest
// non-terminal event. Must be called with b.mu held.
func makeRoom(ch chan *SerializedEvent) {
	queued := make([]*SerializedEvent, 0, cap(ch))
drain:
	for {
		select {
		case ev := <-ch:
			queued = append(queued, ev)
		default:
			break drain
		}
	}

	dropped := len(queued) < cap(ch)
	for _, ev := range queued {
		if !dropped && !ev.Terminal {
			dropped = true
			continue
		}
		ch <- ev
	}
}

// Serialize encodes the public view of job as JSON and as a protobuf Struct.
func Serialize(job Job) (*SerializedEvent, error) {
	fields := job.eventFields()

	jsonData, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JobID:        job.ID,
		Terminal:     job.Status.Terminal(),
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
