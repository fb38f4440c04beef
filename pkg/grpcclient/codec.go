package grpcclient

import (
	json "github.com/goccy/go-json"
	"google.golang.org/grpc/encoding"
)

// JSONCodecName 注册到 gRPC 的 content-subtype，对应 application/grpc+json
const JSONCodecName = "json"

// jsonCodec 以 JSON 作为 gRPC 消息载荷编码，供未提供 protobuf 桩代码的下游服务使用
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return JSONCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
