// Copyright 2025 The Witness Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package forwarder sends a best effort copy of each scan to the remote
// secret detection service.
package forwarder

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/in-toto/pushguard/exclusion"
	"github.com/in-toto/pushguard/log"
	"github.com/in-toto/pushguard/payload"
	"github.com/in-toto/pushguard/settings"
	"github.com/in-toto/pushguard/telemetry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ScanMethod is the full gRPC method name of the remote scan.
	ScanMethod = "/secret_detection.Scanner/Scan"
	// AuthMetadataKey carries the service token.
	AuthMetadataKey = "x-sd-auth"
)

// ErrClosed is reported for requests made after Close.
var ErrClosed = errors.New("forwarder is closed")

type Option func(*Forwarder)

func WithEndpoint(endpoint string) Option {
	return func(f *Forwarder) {
		f.endpoint = endpoint
	}
}

func WithAuthToken(token string) Option {
	return func(f *Forwarder) {
		f.token = token
	}
}

// WithInsecure disables TLS towards the service.
func WithInsecure(insecure bool) Option {
	return func(f *Forwarder) {
		f.insecure = insecure
	}
}

func WithErrorTracker(t telemetry.ErrorTracker) Option {
	return func(f *Forwarder) {
		f.errors = t
	}
}

// Forwarder belongs to a single check. Its connection is opened on first use
// and closed by Close, after which no new connection is opened.
type Forwarder struct {
	policy   settings.PolicySource
	endpoint string
	token    string
	insecure bool
	errors   telemetry.ErrorTracker

	mu     sync.Mutex
	conn   *grpc.ClientConn
	closed bool
}

func New(policy settings.PolicySource, opts ...Option) *Forwarder {
	f := &Forwarder{policy: policy}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Enabled reports whether requests are sent at all.
func (f *Forwarder) Enabled(ctx context.Context) bool {
	if f == nil || f.endpoint == "" {
		return false
	}

	return f.policy.FeatureEnabled(ctx, settings.FeatureRemoteScan) && !f.policy.DedicatedInstance(ctx)
}

// Forward sends payloads and the active exclusions to the service and
// discards the answer. Failures are reported to the error tracker only.
func (f *Forwarder) Forward(ctx context.Context, payloads []payload.Payload, set exclusion.Set) {
	defer func() {
		if r := recover(); r != nil {
			f.track(ctx, fmt.Errorf("remote scan panicked: %v", r), len(payloads))
		}
	}()

	if !f.Enabled(ctx) {
		return
	}

	conn, err := f.client()
	if err != nil {
		f.track(ctx, err, len(payloads))
		return
	}

	req, err := NewRequest(payloads, set)
	if err != nil {
		f.track(ctx, err, len(payloads))
		return
	}

	if f.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, AuthMetadataKey, f.token)
	}

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, ScanMethod, req, resp); err != nil {
		f.track(ctx, fmt.Errorf("remote scan failed: %w", err), len(payloads))
		return
	}

	log.Debugf("(forwarder) remote scan of %d payloads completed", len(payloads))
}

func (f *Forwarder) client() (*grpc.ClientConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	if f.conn != nil {
		return f.conn, nil
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if f.insecure {
		creds = insecure.NewCredentials()
	}

	target := f.endpoint
	if !strings.Contains(target, ":///") {
		target = "passthrough:///" + target
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("could not create remote scan client for %s: %w", f.endpoint, err)
	}

	f.conn = conn
	return conn, nil
}

// Close releases the connection, if one was opened.
func (f *Forwarder) Close() error {
	if f == nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.conn == nil {
		return nil
	}

	err := f.conn.Close()
	f.conn = nil
	return err
}

func (f *Forwarder) track(ctx context.Context, err error, payloads int) {
	log.Debugf("(forwarder) %s", err)
	telemetry.Track(ctx, f.errors, err, map[string]string{
		"endpoint": f.endpoint,
		"payloads": fmt.Sprint(payloads),
	})
}

// NewRequest builds the scan request message.
func NewRequest(payloads []payload.Payload, set exclusion.Set) (*structpb.Struct, error) {
	ps := make([]interface{}, 0, len(payloads))
	for _, p := range payloads {
		ps = append(ps, map[string]interface{}{
			"id":     p.ID,
			"data":   p.Data,
			"offset": p.Offset,
		})
	}

	all := set.All()
	es := make([]interface{}, 0, len(all))
	for _, e := range all {
		es = append(es, map[string]interface{}{
			"exclusion_type": WireExclusionType(e.Type),
			"value":          e.Value,
		})
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"payloads":   ps,
		"exclusions": es,
		"tags":       []interface{}{},
	})
	if err != nil {
		return nil, fmt.Errorf("could not build remote scan request: %w", err)
	}

	return req, nil
}

// WireExclusionType maps an exclusion type to its protocol enum name.
func WireExclusionType(t exclusion.Type) string {
	switch t {
	case exclusion.TypeRule:
		return "EXCLUSION_TYPE_RULE"
	case exclusion.TypePath:
		return "EXCLUSION_TYPE_PATH"
	case exclusion.TypeRawValue:
		return "EXCLUSION_TYPE_RAW_VALUE"
	default:
		return "EXCLUSION_TYPE_UNSPECIFIED"
	}
}
