package grpcx

import (
	"context"

	"github.com/cwrk-planet/consult-service/internal/domain"

	"google.golang.org/grpc"
)

// consult.v1.HistoryService: только чтение. Его используют генераторы
// рецептов и уведомлений; писать сообщения через него нельзя.
const (
	serviceName = "consult.v1.HistoryService"

	methodGetConversation         = "/" + serviceName + "/GetConversation"
	methodListDoctorConversations = "/" + serviceName + "/ListDoctorConversations"
	methodListFarmerConversations = "/" + serviceName + "/ListFarmerConversations"
)

type GetConversationRequest struct {
	FarmerID string `json:"farmer_id"`
	DoctorID string `json:"doctor_id"`
}

type GetConversationResponse struct {
	Messages []domain.Message `json:"messages"`
}

type ListDoctorConversationsRequest struct {
	DoctorID string `json:"doctor_id"`
}

type ListFarmerConversationsRequest struct {
	FarmerID string `json:"farmer_id"`
}

type ListConversationsResponse struct {
	ParticipantIDs []string `json:"participant_ids"`
}

type HistoryServer interface {
	GetConversation(ctx context.Context, in *GetConversationRequest) (*GetConversationResponse, error)
	ListDoctorConversations(ctx context.Context, in *ListDoctorConversationsRequest) (*ListConversationsResponse, error)
	ListFarmerConversations(ctx context.Context, in *ListFarmerConversationsRequest) (*ListConversationsResponse, error)
}

var historyServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*HistoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetConversation", Handler: unaryHandler(methodGetConversation, HistoryServer.GetConversation)},
		{MethodName: "ListDoctorConversations", Handler: unaryHandler(methodListDoctorConversations, HistoryServer.ListDoctorConversations)},
		{MethodName: "ListFarmerConversations", Handler: unaryHandler(methodListFarmerConversations, HistoryServer.ListFarmerConversations)},
	},
	Metadata: "consult/v1/history.json",
}

func RegisterHistoryServer(s grpc.ServiceRegistrar, srv HistoryServer) {
	s.RegisterService(&historyServiceDesc, srv)
}

// unaryHandler: то, что обычно генерирует protoc-gen-go-grpc, но обобщённо.
func unaryHandler[Req any, Resp any](
	fullMethod string,
	call func(HistoryServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(HistoryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(HistoryServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// HistoryClient: клиент для потребителей истории.
type HistoryClient struct {
	cc grpc.ClientConnInterface
}

func NewHistoryClient(cc grpc.ClientConnInterface) *HistoryClient {
	return &HistoryClient{cc: cc}
}

func (c *HistoryClient) GetConversation(ctx context.Context, in *GetConversationRequest, opts ...grpc.CallOption) (*GetConversationResponse, error) {
	out := new(GetConversationResponse)
	if err := c.cc.Invoke(ctx, methodGetConversation, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HistoryClient) ListDoctorConversations(ctx context.Context, in *ListDoctorConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	out := new(ListConversationsResponse)
	if err := c.cc.Invoke(ctx, methodListDoctorConversations, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HistoryClient) ListFarmerConversations(ctx context.Context, in *ListFarmerConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	out := new(ListConversationsResponse)
	if err := c.cc.Invoke(ctx, methodListFarmerConversations, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
