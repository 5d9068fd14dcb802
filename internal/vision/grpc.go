package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/face-blur/internal/logging"
)

// DetectMethod is the full gRPC method name served by the detector sidecar.
// Requests and responses are google.protobuf.Struct messages using the same
// field names as the REST analyze API.
const DetectMethod = "/faceblur.vision.v1.FaceDetector/Detect"

// GRPCDetector talks to an in-cluster detector over gRPC.
type GRPCDetector struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// DialDetector returns a ready-to-use detector client. creds may be nil when
// the sidecar is unauthenticated.
func DialDetector(ctx context.Context, addr string, creds CredentialProvider, logger *zap.Logger) (*GRPCDetector, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}
	if creds != nil {
		opts = append(opts, grpc.WithPerRPCCredentials(rpcCredentials{creds: creds}))
	}

	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("vision.dial_detector", "", err)
		logger.Error("failed to dial face detector", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &GRPCDetector{conn: conn, logger: logger.Named("vision_grpc")}, nil
}

// Close releases the underlying connection.
func (g *GRPCDetector) Close() error {
	return g.conn.Close()
}

// Detect implements Detector.
func (g *GRPCDetector) Detect(ctx context.Context, src Source) (*Analysis, error) {
	fields := map[string]interface{}{}
	switch {
	case src.URL != "":
		fields["url"] = src.URL
	case len(src.Data) > 0:
		fields["image_base64"] = base64.StdEncoding.EncodeToString(src.Data)
	default:
		return nil, ErrEmptySource
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, DetectMethod, req, resp); err != nil {
		return nil, err
	}

	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var body analyzeResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return body.analysis()
}

// rpcCredentials forwards the configured auth header as gRPC metadata.
type rpcCredentials struct {
	creds CredentialProvider
}

func (r rpcCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	name, value, err := r.creds.AuthHeader(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{strings.ToLower(name): value}, nil
}

func (rpcCredentials) RequireTransportSecurity() bool {
	return false
}
