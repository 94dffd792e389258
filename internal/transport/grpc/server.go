package grpcx

import (
	"context"
	"errors"

	"github.com/cwrk-planet/consult-service/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type ChatSvc interface {
	History(ctx context.Context, farmerID, doctorID string) ([]domain.Message, error)
	FarmersForDoctor(ctx context.Context, doctorID string) ([]string, error)
	DoctorsForFarmer(ctx context.Context, farmerID string) ([]string, error)
}

type Server struct {
	chatSvc ChatSvc
}

func NewServer(chatSvc ChatSvc) *Server {
	return &Server{chatSvc: chatSvc}
}

func Register(grpcServer *grpc.Server, s *Server) {
	RegisterHistoryServer(grpcServer, s)
}

// -------- methods --------

func (s *Server) GetConversation(ctx context.Context, in *GetConversationRequest) (*GetConversationResponse, error) {
	msgs, err := s.chatSvc.History(ctx, in.FarmerID, in.DoctorID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &GetConversationResponse{Messages: msgs}, nil
}

func (s *Server) ListDoctorConversations(ctx context.Context, in *ListDoctorConversationsRequest) (*ListConversationsResponse, error) {
	ids, err := s.chatSvc.FarmersForDoctor(ctx, in.DoctorID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &ListConversationsResponse{ParticipantIDs: ids}, nil
}

func (s *Server) ListFarmerConversations(ctx context.Context, in *ListFarmerConversationsRequest) (*ListConversationsResponse, error) {
	ids, err := s.chatSvc.DoctorsForFarmer(ctx, in.FarmerID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &ListConversationsResponse{ParticipantIDs: ids}, nil
}

// -------- helpers --------

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "message store timed out")
	case errors.Is(err, domain.ErrPersistence):
		return status.Error(codes.Unavailable, "message store unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
