package server

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/formkeeper/internal/core/api"
	"github.com/solatis/formkeeper/internal/core/auth"
)

/*
 * formkeeper.v1.FormService
 *
 * The service is described by hand instead of generated from a .proto file:
 * every method takes and returns a google.protobuf.Struct, so the wire
 * format is plain protobuf and any client can call it with the well-known
 * types alone.
 *
 *   Validate(Struct{schema, data, context?, path?}) -> Struct{valid, errors, etag}
 *   Evaluate(Struct{schema, data, context?})        -> Struct{valid, errors, data, visible, props, etag}
 *   Submit(Struct{schema, data, context?})          -> Struct{valid, errors, submission_id, etag}
 *   ListSchemas(Struct{})                           -> Struct{schemas: [...]}
 */

// FormServiceName is the fully qualified gRPC service name.
const FormServiceName = "formkeeper.v1.FormService"

// DefaultTenant is used when authentication is disabled.
const DefaultTenant = "default"

// FormServiceServer is the server API for formkeeper.v1.FormService.
type FormServiceServer interface {
	Validate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSchemas(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type formMethod func(FormServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call formMethod) grpc.MethodHandler {
	fullMethod := "/" + FormServiceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FormServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(FormServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var formServiceDesc = grpc.ServiceDesc{
	ServiceName: FormServiceName,
	HandlerType: (*FormServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Validate", Handler: unaryHandler("Validate", FormServiceServer.Validate)},
		{MethodName: "Evaluate", Handler: unaryHandler("Evaluate", FormServiceServer.Evaluate)},
		{MethodName: "Submit", Handler: unaryHandler("Submit", FormServiceServer.Submit)},
		{MethodName: "ListSchemas", Handler: unaryHandler("ListSchemas", FormServiceServer.ListSchemas)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "formkeeper/v1/form_service.proto",
}

// RegisterFormServiceServer registers srv on s.
func RegisterFormServiceServer(s grpc.ServiceRegistrar, srv FormServiceServer) {
	s.RegisterService(&formServiceDesc, srv)
}

// formServer adapts api.FormService to the wire service.
type formServer struct {
	svc *api.FormService
}

func (s *formServer) Validate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Validate(ctx, req)
	if err != nil {
		return nil, statusError(err)
	}
	return encode(res)
}

func (s *formServer) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Evaluate(ctx, req)
	if err != nil {
		return nil, statusError(err)
	}
	return encode(res)
}

func (s *formServer) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Submit(ctx, tenantID(ctx), req)
	if err != nil {
		return nil, statusError(err)
	}
	return encode(res)
}

func (s *formServer) ListSchemas(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	names := s.svc.Schemas()
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	out, err := structpb.NewStruct(map[string]any{"schemas": list})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func tenantID(ctx context.Context) string {
	if t := auth.TenantIDFromContext(ctx); t != "" {
		return t
	}
	return DefaultTenant
}

// decodeRequest reads {schema, data, context, path} from a Struct.
func decodeRequest(in *structpb.Struct) (api.Request, error) {
	m := in.AsMap()
	var req api.Request

	name, _ := m["schema"].(string)
	if name == "" {
		return req, status.Error(codes.InvalidArgument, "schema is required")
	}
	req.Schema = name

	var ok bool
	if v, present := m["data"]; present && v != nil {
		if req.Data, ok = v.(map[string]any); !ok {
			return req, status.Error(codes.InvalidArgument, "data must be an object")
		}
	}
	if v, present := m["context"]; present && v != nil {
		if req.Context, ok = v.(map[string]any); !ok {
			return req, status.Error(codes.InvalidArgument, "context must be an object")
		}
	}
	if v, present := m["path"]; present && v != nil {
		if req.Path, ok = v.(string); !ok {
			return req, status.Error(codes.InvalidArgument, "path must be a string")
		}
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	return req, nil
}

// encode converts a result to a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode result: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode result: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode result: %v", err))
	}
	return out, nil
}

// FormServiceClient calls formkeeper.v1.FormService.
type FormServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewFormServiceClient returns a client over cc.
func NewFormServiceClient(cc grpc.ClientConnInterface) *FormServiceClient {
	return &FormServiceClient{cc: cc}
}

func (c *FormServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+FormServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate calls FormService.Validate.
func (c *FormServiceClient) Validate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Validate", in, opts...)
}

// Evaluate calls FormService.Evaluate.
func (c *FormServiceClient) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Evaluate", in, opts...)
}

// Submit calls FormService.Submit.
func (c *FormServiceClient) Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Submit", in, opts...)
}

// ListSchemas calls FormService.ListSchemas.
func (c *FormServiceClient) ListSchemas(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListSchemas", &structpb.Struct{}, opts...)
}
