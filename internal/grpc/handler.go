package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/JoJoGatito/koji-gallery/internal/cart"
	"github.com/JoJoGatito/koji-gallery/internal/catalog"
	"github.com/JoJoGatito/koji-gallery/internal/domain"
	pb "github.com/JoJoGatito/koji-gallery/internal/grpc/cartv1"
	"github.com/JoJoGatito/koji-gallery/internal/session"
)

// SessionMetadataKey carries the session id for requests that leave the
// session_id field empty, mirroring the X-Cart-Session HTTP header.
const SessionMetadataKey = "x-cart-session"

type CartServiceServer struct {
	pb.UnimplementedCartServiceServer
	sessions *session.Manager
	catalog  catalog.Provider
}

// NewCartServiceServer serves the sessions of m. p may be nil, in which case
// AddItem takes the artwork from the request.
func NewCartServiceServer(m *session.Manager, p catalog.Provider) *CartServiceServer {
	return &CartServiceServer{
		sessions: m,
		catalog:  p,
	}
}

func convertCart(snap domain.Snapshot) pb.Cart {
	items := snap.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	return pb.Cart{
		Items:          items,
		ItemCount:      snap.ItemCount,
		Total:          snap.Total,
		FormattedTotal: cart.FormatTotal(snap.Items, snap.Total),
	}
}

func (s *CartServiceServer) GetCart(ctx context.Context, req *pb.GetCartRequest) (*pb.CartResponse, error) {
	sess, err := s.session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	return &pb.CartResponse{Cart: convertCart(sess.Store.Snapshot())}, nil
}

func (s *CartServiceServer) AddItem(ctx context.Context, req *pb.AddItemRequest) (*pb.CartResponse, error) {
	if req.ArtworkID == "" {
		return nil, status.Error(codes.InvalidArgument, "artwork_id is required")
	}

	artwork, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	sess, err := s.session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	item, err := sess.Store.Add(ctx, *artwork)
	if err != nil {
		return nil, toStatus(err)
	}

	return &pb.CartResponse{Cart: convertCart(sess.Store.Snapshot()), Item: &item}, nil
}

func (s *CartServiceServer) RemoveItem(ctx context.Context, req *pb.RemoveItemRequest) (*pb.CartResponse, error) {
	sess, err := s.session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Store.Remove(ctx, req.ItemID); err != nil {
		return nil, toStatus(err)
	}
	return &pb.CartResponse{Cart: convertCart(sess.Store.Snapshot())}, nil
}

func (s *CartServiceServer) SetQuantity(ctx context.Context, req *pb.SetQuantityRequest) (*pb.CartResponse, error) {
	sess, err := s.session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Store.SetQuantity(ctx, req.ItemID, req.Quantity); err != nil {
		return nil, toStatus(err)
	}
	return &pb.CartResponse{Cart: convertCart(sess.Store.Snapshot())}, nil
}

func (s *CartServiceServer) ClearCart(ctx context.Context, req *pb.ClearCartRequest) (*pb.CartResponse, error) {
	sess, err := s.session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	removed, err := sess.Store.Clear(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.CartResponse{Cart: convertCart(sess.Store.Snapshot()), Removed: removed}, nil
}

// WatchCart sends the current cart, then every change until the client
// goes away. A slow client skips intermediate states but always receives
// the latest one.
func (s *CartServiceServer) WatchCart(req *pb.WatchCartRequest, stream grpc.ServerStreamingServer[pb.Cart]) error {
	ctx := stream.Context()
	sess, err := s.session(ctx, req.SessionID)
	if err != nil {
		return err
	}

	latest := make(chan domain.Snapshot, 1)
	cancel := sess.Store.Subscribe(func(snap domain.Snapshot) {
		// listeners run one at a time, so drain-then-send cannot race
		select {
		case <-latest:
		default:
		}
		latest <- snap
	})
	defer cancel()

	first := convertCart(sess.Store.Snapshot())
	if err := stream.Send(&first); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-latest:
			c := convertCart(snap)
			if err := stream.Send(&c); err != nil {
				return err
			}
		}
	}
}

func (s *CartServiceServer) session(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(SessionMetadataKey); len(v) > 0 {
				id = v[0]
			}
		}
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return sess, nil
}

func (s *CartServiceServer) resolve(ctx context.Context, req *pb.AddItemRequest) (*domain.Artwork, error) {
	if s.catalog != nil {
		a, err := s.catalog.Artwork(ctx, req.ArtworkID)
		if err != nil {
			return nil, toStatus(err)
		}
		return a, nil
	}
	if req.Artwork == nil || req.Artwork.Title == "" {
		return nil, status.Error(codes.InvalidArgument, "artwork is required when no catalog is configured")
	}
	a := *req.Artwork
	a.ID = req.ArtworkID
	if a.Currency == "" {
		a.Currency = domain.DefaultCurrency
	}
	if a.Availability == "" {
		a.Availability = domain.Available
	}
	return &a, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, cart.ErrSoldOut):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, cart.ErrAlreadyInCart):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, cart.ErrItemNotFound), errors.Is(err, catalog.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, session.ErrInvalidID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, catalog.ErrUnavailable), errors.Is(err, session.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Errorf(codes.Internal, "cart operation failed: %v", err)
	}
}
