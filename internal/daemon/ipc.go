// Copyright 2024 SpockFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	log "github.com/sirupsen/logrus"
)

// Request types
const (
	RequestStatus         = "status"
	RequestStop           = "stop"
	RequestStatFS         = "statfs"          // Capacity and usage of the live namespace
	RequestSave           = "save"            // Snapshot the live namespace now
	RequestListSnapshots  = "list_snapshots"  // List snapshots in the snapshot file
	RequestDeleteSnapshot = "delete_snapshot" // Delete one snapshot
	RequestPrune          = "prune"           // Keep only the newest snapshots
)

// ipcTimeout bounds a single request/response exchange
const ipcTimeout = 60 * time.Second

// Request is one control request. Messages are CBOR encoded, one request
// and one response per connection.
type Request struct {
	Type       string `cbor:"type"`
	Message    string `cbor:"message,omitempty"`     // Save: snapshot message
	SnapshotID string `cbor:"snapshot_id,omitempty"` // Delete: snapshot ID
	Keep       int    `cbor:"keep,omitempty"`        // Prune: snapshots to keep
}

// SnapshotInfo describes one snapshot in a response
type SnapshotInfo struct {
	ID         string `cbor:"id"`
	Message    string `cbor:"message"`
	CreatedAt  int64  `cbor:"created_at"` // Unix timestamp
	InodeCount int64  `cbor:"inode_count"`
	TotalSize  int64  `cbor:"total_size"` // bytes
}

// StatusInfo is the daemon state reported by status
type StatusInfo struct {
	FSID         string `cbor:"fs_id"`
	NetFS        string `cbor:"netfs"`
	Listen       string `cbor:"listen,omitempty"`
	MountPoint   string `cbor:"mount_point,omitempty"`
	SnapshotFile string `cbor:"snapshot_file,omitempty"`
	StartedAt    int64  `cbor:"started_at"`
	LastSaveAt   int64  `cbor:"last_save_at,omitempty"`
	OpenHandles  int    `cbor:"open_handles"`
}

// StatFSInfo mirrors statvfs for the live namespace
type StatFSInfo struct {
	BlockSize  uint32 `cbor:"block_size"`
	Blocks     uint64 `cbor:"blocks"`
	BlocksFree uint64 `cbor:"blocks_free"`
	Files      uint64 `cbor:"files"`
	FilesFree  uint64 `cbor:"files_free"`
	NameMax    uint32 `cbor:"name_max"`
	FSID       uint64 `cbor:"fsid"`
}

// Response is the answer to one Request
type Response struct {
	Success bool   `cbor:"success"`
	Message string `cbor:"message,omitempty"`
	Error   string `cbor:"error,omitempty"`
	PID     int    `cbor:"pid,omitempty"`

	Status    *StatusInfo    `cbor:"status,omitempty"`
	StatFS    *StatFSInfo    `cbor:"statfs,omitempty"`
	Snapshot  *SnapshotInfo  `cbor:"snapshot,omitempty"`  // Save: the new snapshot
	Snapshots []SnapshotInfo `cbor:"snapshots,omitempty"` // ListSnapshots
	Pruned    int            `cbor:"pruned,omitempty"`    // Prune: snapshots removed
}

func errorResponse(format string, args ...interface{}) *Response {
	return &Response{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Server is the IPC server
type Server struct {
	path     string
	listener net.Listener
	handler  func(*Request) *Response
	wg       sync.WaitGroup
}

// NewServer creates an IPC server on the default socket path
func NewServer(handler func(*Request) *Response) *Server {
	return &Server{path: SocketPath(), handler: handler}
}

// Start listens on the socket and serves requests in the background
func (s *Server) Start() error {
	os.Remove(s.path)

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.path, 0600); err != nil {
		log.Warnf("[IPC] chmod %s: %v", s.path, err)
	}

	s.wg.Add(1)
	go s.accept()
	return nil
}

// Stop closes the socket and waits for in-flight requests
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
		os.Remove(s.path)
	}
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // Server stopped
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ipcTimeout))

	var req Request
	if err := cbor.NewDecoder(conn).Decode(&req); err != nil {
		log.Debugf("[IPC] bad request: %v", err)
		return
	}

	resp := s.handler(&req)
	if err := cbor.NewEncoder(conn).Encode(resp); err != nil {
		log.Debugf("[IPC] write response: %v", err)
	}
}

// Client is the IPC client
type Client struct {
	conn net.Conn
}

// Connect connects to the daemon
func Connect() (*Client, error) {
	conn, err := net.DialTimeout("unix", SocketPath(), 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send sends a request and returns the response
func (c *Client) Send(req *Request) (*Response, error) {
	_ = c.conn.SetDeadline(time.Now().Add(ipcTimeout))
	if err := cbor.NewEncoder(c.conn).Encode(req); err != nil {
		return nil, err
	}

	var resp Response
	if err := cbor.NewDecoder(c.conn).Decode(&resp); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("daemon closed connection")
		}
		return nil, err
	}
	return &resp, nil
}

// sendChecked sends req and turns an unsuccessful response into an error
func (c *Client) sendChecked(req *Request) (*Response, error) {
	resp, err := c.Send(req)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s failed: %s", req.Type, resp.Error)
	}
	return resp, nil
}

// Status sends a status request
func (c *Client) Status() (*Response, error) {
	return c.sendChecked(&Request{Type: RequestStatus})
}

// Stop sends a stop request
func (c *Client) Stop() (*Response, error) {
	return c.sendChecked(&Request{Type: RequestStop})
}

// StatFS returns the capacity report of the live namespace
func (c *Client) StatFS() (*StatFSInfo, error) {
	resp, err := c.sendChecked(&Request{Type: RequestStatFS})
	if err != nil {
		return nil, err
	}
	return resp.StatFS, nil
}

// Save snapshots the live namespace
func (c *Client) Save(message string) (*SnapshotInfo, error) {
	resp, err := c.sendChecked(&Request{Type: RequestSave, Message: message})
	if err != nil {
		return nil, err
	}
	return resp.Snapshot, nil
}

// ListSnapshots lists the snapshots in the daemon's snapshot file
func (c *Client) ListSnapshots() ([]SnapshotInfo, error) {
	resp, err := c.sendChecked(&Request{Type: RequestListSnapshots})
	if err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// DeleteSnapshot deletes a snapshot from the daemon's snapshot file
func (c *Client) DeleteSnapshot(id string) error {
	_, err := c.sendChecked(&Request{Type: RequestDeleteSnapshot, SnapshotID: id})
	return err
}

// Prune keeps the newest keep snapshots and reports how many went
func (c *Client) Prune(keep int) (int, error) {
	resp, err := c.sendChecked(&Request{Type: RequestPrune, Keep: keep})
	if err != nil {
		return 0, err
	}
	return resp.Pruned, nil
}

// IsDaemonRunning checks if the daemon answers on its socket
func IsDaemonRunning() bool {
	client, err := Connect()
	if err != nil {
		return false
	}
	client.Close()
	return true
}
