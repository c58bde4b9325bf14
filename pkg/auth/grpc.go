package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// Status messages mirroring the opaque HTTP boundary bodies. Clients see the
// same two responses over gRPC that they would see over HTTP.
const (
	grpcUnauthenticatedMessage = "authentication failed"
	grpcUnavailableMessage     = "identity verification temporarily unavailable"
)

// UnaryServerInterceptor returns a gRPC unary server interceptor that runs
// the same verification chain as [Middleware]: bearer token from incoming
// metadata, verified claims, resolved [Identity], provisioned principal.
//
// Client-caused failures return codes.Unauthenticated with an opaque
// message; failures of the key discovery or principal storage dependencies
// return codes.Unavailable. The classified kind is logged before the status
// is returned.
func UnaryServerInterceptor(verifier TokenVerifier, provisioner PrincipalProvisioner) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, verifier, provisioner)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns the stream-side counterpart of
// [UnaryServerInterceptor]. It wraps the stream so the handler observes the
// enriched context.
func StreamServerInterceptor(verifier TokenVerifier, provisioner PrincipalProvisioner) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), verifier, provisioner)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// authenticateGRPC extracts the bearer token from incoming metadata, runs
// the verification chain, and converts failures to gRPC status errors.
func authenticateGRPC(ctx context.Context, verifier TokenVerifier, provisioner PrincipalProvisioner) (context.Context, error) {
	var raw string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(HeaderAuthorization); len(values) > 0 {
			raw = values[0]
		}
	}

	token := ExtractBearerToken(raw)
	if token == "" {
		return ctx, statusFromError(ctx,
			iderr.New(iderr.CodeAuthMissingToken, "auth: request has no bearer token"))
	}

	enriched, err := authenticate(ctx, verifier, provisioner, token)
	if err != nil {
		return ctx, statusFromError(ctx, err)
	}
	return enriched, nil
}

// statusFromError logs the classified failure kind and collapses it to one
// of the two boundary status codes.
func statusFromError(ctx context.Context, err error) error {
	if iderr.IsAuthentication(err) {
		logFailure(ctx, slog.LevelInfo, "auth: request authentication failed", err)
		return status.Error(codes.Unauthenticated, grpcUnauthenticatedMessage)
	}
	logFailure(ctx, slog.LevelError, "auth: identity verification unavailable", err)
	return status.Error(codes.Unavailable, grpcUnavailableMessage)
}

// wrappedServerStream wraps a grpc.ServerStream to override its Context
// method. ServerStream.Context() returns the original stream context, which
// does not contain the identity added by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context containing identity information.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
