package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/opd-ai/packetnet/packet"
	"github.com/opd-ai/packetnet/transport"
	"github.com/sirupsen/logrus"
)

// DecodeFunc turns a payload into the value a Handler receives.
type DecodeFunc func(payload []byte) (any, error)

// Handler processes one decoded message. sender is nil on the client
// dispatch path, where the implicit sender is the server.
type Handler func(sender *transport.Peer, value any, ch transport.Channel)

type invokeFunc func(sender *transport.Peer, payload []byte, ch transport.Channel) error

// identity distinguishes an idempotent re-registration from a conflicting
// one. Go functions are not comparable, so code pointers stand in.
type identity struct {
	decoder string
	handler uintptr
}

type entry struct {
	id        packet.TypeID
	name      string
	identity  identity
	valueType reflect.Type
	invoke    invokeFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithSerializer replaces the default CBOR serializer.
func WithSerializer(s packet.Serializer) Option {
	return func(r *Registry) {
		r.serializer = s
	}
}

// WithHasher replaces the name hash. Intended for tests that need to force
// id collisions.
func WithHasher(h func(string) packet.TypeID) Option {
	return func(r *Registry) {
		r.hash = h
	}
}

// Registry maps message type ids to decode+invoke closures. Entries persist
// until unregistered and are independent of connection state.
type Registry struct {
	mu         sync.RWMutex
	serializer packet.Serializer
	hash       func(string) packet.TypeID
	entries    map[packet.TypeID]*entry
	ids        map[string]packet.TypeID
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		serializer: packet.DefaultSerializer(),
		hash:       packet.ComputeTypeID,
		entries:    make(map[packet.TypeID]*entry),
		ids:        make(map[string]packet.TypeID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Serializer returns the serializer used for payloads and envelopes.
func (r *Registry) Serializer() packet.Serializer {
	return r.serializer
}

// Register stores handler for name, decoding payloads with decode.
// Registering the same name again with the same decoder and handler is a
// no-op.
func (r *Registry) Register(name string, decode DecodeFunc, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: %q", ErrNilHandler, name)
	}
	if decode == nil {
		return fmt.Errorf("%w: %q", ErrNilDecoder, name)
	}

	ident := identity{
		decoder: fmt.Sprintf("func@%x", reflect.ValueOf(decode).Pointer()),
		handler: reflect.ValueOf(handler).Pointer(),
	}
	invoke := func(sender *transport.Peer, payload []byte, ch transport.Channel) error {
		v, err := decode(payload)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
		}
		handler(sender, v, ch)
		return nil
	}
	return r.add(name, ident, nil, invoke)
}

// Register stores a typed handler for name. Payloads are decoded into T with
// the registry's serializer, once per inbound message.
func Register[T any](r *Registry, name string, handler func(sender *transport.Peer, value T, ch transport.Channel)) error {
	if handler == nil {
		return fmt.Errorf("%w: %q", ErrNilHandler, name)
	}

	valueType := reflect.TypeFor[T]()
	ident := identity{
		decoder: valueType.String(),
		handler: reflect.ValueOf(handler).Pointer(),
	}
	s := r.serializer
	invoke := func(sender *transport.Peer, payload []byte, ch transport.Channel) error {
		var v T
		if err := s.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
		}
		handler(sender, v, ch)
		return nil
	}
	return r.add(name, ident, valueType, invoke)
}

func (r *Registry) add(name string, ident identity, valueType reflect.Type, invoke invokeFunc) error {
	id := r.hash(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[id]; ok {
		if existing.name == name && existing.identity == ident {
			return nil
		}
		var err error
		if existing.name == name {
			err = fmt.Errorf("%w: %q has a different handler", ErrAlreadyRegistered, name)
		} else {
			err = fmt.Errorf("%w: %q collides with %q at %s", ErrAlreadyRegistered, name, existing.name, id)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Register",
			"name":     name,
			"type_id":  id.String(),
			"existing": existing.name,
		}).Warn("Packet registration refused")
		return err
	}

	r.entries[id] = &entry{
		id:        id,
		name:      name,
		identity:  ident,
		valueType: valueType,
		invoke:    invoke,
	}
	r.ids[name] = id

	logrus.WithFields(logrus.Fields{
		"function": "Registry.Register",
		"name":     name,
		"type_id":  id.String(),
	}).Debug("Packet registered")
	return nil
}

// Unregister removes name and its handler. Removing an absent name is a
// no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.ids[name]
	if !ok {
		return
	}
	delete(r.ids, name)
	if e, ok := r.entries[id]; ok && e.name == name {
		delete(r.entries, id)
	}
}

// IsRegistered reports whether name has a handler.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[name]
	return ok
}

// ID returns the type id registered for name.
func (r *Registry) ID(name string) (packet.TypeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[name]
	return id, ok
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ids))
	for name := range r.ids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode serializes value, wraps it in an Envelope carrying name's type id
// and serializes the envelope. Nothing is encoded for an unregistered name.
func (r *Registry) Encode(name string, value any) ([]byte, error) {
	r.mu.RLock()
	id, ok := r.ids[name]
	var valueType reflect.Type
	if ok {
		valueType = r.entries[id].valueType
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	if valueType != nil && !accepts(valueType, value) {
		return nil, fmt.Errorf("%w: %q expects %s, got %T", ErrTypeMismatch, name, valueType, value)
	}

	payload, err := r.serializer.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", name, err)
	}
	return packet.EncodeEnvelope(r.serializer, packet.NewEnvelope(id, payload))
}

// accepts reports whether value can be handed to a handler taking t.
func accepts(t reflect.Type, value any) bool {
	got := reflect.TypeOf(value)
	if got == nil {
		return t.Kind() == reflect.Interface
	}
	return got.AssignableTo(t)
}

// Dispatch decodes raw as an Envelope and invokes the handler registered for
// its type id exactly once. An id without a handler yields an
// *UnknownPacketError and the frame is dropped.
func (r *Registry) Dispatch(sender *transport.Peer, raw []byte, ch transport.Channel) error {
	env, err := packet.DecodeEnvelope(r.serializer, raw)
	if err != nil {
		return err
	}

	r.mu.RLock()
	e, ok := r.entries[env.TypeID]
	r.mu.RUnlock()

	if !ok {
		return &UnknownPacketError{TypeID: env.TypeID, Sender: sender}
	}
	return e.invoke(sender, env.Payload, ch)
}
