// Package rpcapi exposes a wal.Log and crdt.Store pair over net/rpc, the
// same wrapper shape used for the BitDB key-value store, generalized from
// string keys/values to CRDT put/delete/get against JSON-shaped data.
package rpcapi

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"net"
	"net/rpc"

	"github.com/google/uuid"

	"github.com/pluresdb/corelog/crdt"
	"github.com/pluresdb/corelog/wal"
)

func init() {
	// net/rpc's default codec is encoding/gob, which cannot encode an
	// interface value unless its concrete type is registered. Data comes
	// from decoded JSON, so these are the only shapes it can ever hold.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register("")
	gob.Register(float64(0))
	gob.Register(false)
}

// Service is the RPC-registered object. Every exported method takes a
// request ID so server logs can be correlated with the client that issued
// them; callers that don't care can leave RequestID empty and one is
// generated server-side.
type Service struct {
	log   *wal.Log
	store *crdt.Store
}

// PutArgs is the request for Service.Put.
type PutArgs struct {
	RequestID string
	Actor     string
	ID        string
	Data      any
}

// PutReply reports the seq the put was appended at.
type PutReply struct {
	Seq uint64
}

// GetArgs is the request for Service.Get.
type GetArgs struct {
	RequestID string
	ID        string
}

// GetReply carries the looked-up record, or Found=false if absent.
type GetReply struct {
	Found  bool
	Record crdt.Record
}

// DeleteArgs is the request for Service.Delete.
type DeleteArgs struct {
	RequestID string
	Actor     string
	ID        string
}

// Put appends a put operation to the log and applies it to the in-memory
// store, so a subsequent Get in the same process observes it immediately.
func (s *Service) Put(args *PutArgs, reply *PutReply) error {
	reqID := ensureRequestID(args.RequestID)

	seq, err := s.log.Append(args.Actor, wal.PutOp(args.ID, args.Data))
	if err != nil {
		log.Printf("rpcapi[%s]: put %q: append failed: %v", reqID, args.ID, err)
		return err
	}
	s.store.Put(args.ID, args.Actor, args.Data)

	log.Printf("rpcapi[%s]: put %q at seq=%d", reqID, args.ID, seq)
	reply.Seq = seq
	return nil
}

// Get reads the current in-memory value for id. It never touches the log:
// the log is the durability mechanism, the store is the read path.
func (s *Service) Get(args *GetArgs, reply *GetReply) error {
	reqID := ensureRequestID(args.RequestID)

	rec, ok := s.store.Get(args.ID)
	reply.Found = ok
	reply.Record = rec

	log.Printf("rpcapi[%s]: get %q found=%v", reqID, args.ID, ok)
	return nil
}

// Delete appends a delete operation to the log and removes id from the
// in-memory store. Deleting an id that does not exist in the store is not
// an error at the RPC layer: the log still records the attempt.
func (s *Service) Delete(args *DeleteArgs, _ *struct{}) error {
	reqID := ensureRequestID(args.RequestID)

	if _, err := s.log.Append(args.Actor, wal.DeleteOp(args.ID)); err != nil {
		log.Printf("rpcapi[%s]: delete %q: append failed: %v", reqID, args.ID, err)
		return err
	}
	if err := s.store.Delete(args.ID); err != nil && !errors.Is(err, crdt.ErrNotFound) {
		return err
	}

	log.Printf("rpcapi[%s]: delete %q", reqID, args.ID)
	return nil
}

func ensureRequestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// Serve opens a log at dir, replays it into a fresh store, registers a
// Service under the RPC name "WAL", and starts accepting connections on
// addr in the background. It returns the bound address and a cleanup
// callback that stops the listener and closes the log.
func Serve(dir string, addr string, opts ...wal.Option) (string, func(), error) {
	l, err := wal.Open(dir, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("rpcapi: open %q: %w", dir, err)
	}

	store := crdt.New()
	records, err := l.ReadAll()
	if err != nil {
		_ = l.Close()
		return "", nil, fmt.Errorf("rpcapi: initial read of %q: %w", dir, err)
	}
	for _, rec := range records {
		if !rec.ValidateChecksum() {
			continue
		}
		if err := store.Apply(rec.Actor, rec.Operation); err != nil {
			log.Printf("rpcapi: skipping unapplyable record seq=%d: %v", rec.Seq, err)
		}
	}

	svc := &Service{log: l, store: store}
	server := rpc.NewServer()
	if err := server.RegisterName("WAL", svc); err != nil {
		_ = l.Close()
		return "", nil, fmt.Errorf("rpcapi: register: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = l.Close()
		return "", nil, fmt.Errorf("rpcapi: listen %q: %w", addr, err)
	}

	go server.Accept(listener)

	cleanup := func() {
		_ = listener.Close()
		if err := l.Close(); err != nil {
			log.Printf("rpcapi: close log: %v", err)
		}
	}
	return listener.Addr().String(), cleanup, nil
}
