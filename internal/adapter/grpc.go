// SPDX-License-Identifier: MIT

package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rentmesh/rentmesh/internal/domain"
)

const supplierService = "/rentmesh.supplier.v1.SupplierService/"

// jsonCodec lets us invoke the supplier service with plain structs. The
// wire contract is JSON-framed gRPC, so no generated stubs are needed.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return "json" }

// GRPCAdapter drives a supplier over gRPC with JSON payloads.
type GRPCAdapter struct {
	sourceID string
	conn     *grpc.ClientConn
	auth     string
}

// NewGRPC dials the supplier endpoint. The connection is lazy, so dial
// errors surface on first use.
func NewGRPC(sourceID string, ep domain.SourceEndpoint) (*GRPCAdapter, error) {
	addr, err := fullAddress(ep)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", sourceID, err)
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	)
	if err != nil {
		return nil, fmt.Errorf("source %s: dial %s: %w", sourceID, addr, err)
	}
	return &GRPCAdapter{sourceID: sourceID, conn: conn, auth: ep.Auth}, nil
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func (a *GRPCAdapter) invoke(ctx context.Context, method string, in, out any) error {
	if a.auth != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+a.auth)
	}
	err := a.conn.Invoke(ctx, supplierService+method, in, out)
	if err == nil {
		return nil
	}
	return a.statusError(err)
}

// statusError maps a gRPC status to the broker taxonomy.
func (a *GRPCAdapter) statusError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return domain.WrapE(domain.CodeUnavailable, "", err, "source %s unreachable", a.sourceID)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return domain.E(domain.CodeInvalidArgument, "", "source %s: %s", a.sourceID, st.Message())
	case codes.NotFound:
		return domain.E(domain.CodeNotFound, "", "source %s: %s", a.sourceID, st.Message())
	case codes.AlreadyExists:
		return domain.E(domain.CodeAlreadyExists, "", "source %s: %s", a.sourceID, st.Message())
	case codes.FailedPrecondition, codes.Aborted:
		return domain.E(domain.CodeFailedPrecondition, "", "source %s: %s", a.sourceID, st.Message())
	case codes.PermissionDenied, codes.Unauthenticated:
		return domain.E(domain.CodePermissionDenied, "", "source %s: %s", a.sourceID, st.Message())
	case codes.DeadlineExceeded:
		return domain.E(domain.CodeDeadlineExceeded, "", "source %s timed out", a.sourceID)
	default:
		return domain.WrapE(domain.CodeUnavailable, "", err, "source %s: %s", a.sourceID, st.Message())
	}
}

func (a *GRPCAdapter) Locations(ctx context.Context) ([]string, error) {
	var out struct {
		Unlocodes []string `json:"unlocodes"`
	}
	if err := a.invoke(ctx, "ListLocations", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Unlocodes, nil
}

func (a *GRPCAdapter) Availability(ctx context.Context, req AvailabilityRequest) ([]domain.Offer, error) {
	var out struct {
		Offers []domain.Offer `json:"offers"`
	}
	if err := a.invoke(ctx, "SearchAvailability", req, &out); err != nil {
		return nil, err
	}
	normalizeOffers(a.sourceID, req, out.Offers)
	return out.Offers, nil
}

func (a *GRPCAdapter) CreateBooking(ctx context.Context, req BookingCreateRequest) (*BookingResponse, error) {
	var out BookingResponse
	if err := a.invoke(ctx, "CreateBooking", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *GRPCAdapter) ModifyBooking(ctx context.Context, req BookingModifyRequest) (*BookingResponse, error) {
	var out BookingResponse
	if err := a.invoke(ctx, "ModifyBooking", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *GRPCAdapter) CancelBooking(ctx context.Context, ref BookingRef) (*BookingResponse, error) {
	var out BookingResponse
	if err := a.invoke(ctx, "CancelBooking", ref, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *GRPCAdapter) CheckBooking(ctx context.Context, ref BookingRef) (*BookingResponse, error) {
	var out BookingResponse
	if err := a.invoke(ctx, "CheckBooking", ref, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *GRPCAdapter) Close() error { return a.conn.Close() }

var _ SourceAdapter = (*GRPCAdapter)(nil)
