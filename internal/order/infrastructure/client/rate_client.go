package client

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/fxsettlement/internal/order/domain"
	"github.com/wyfcoding/fxsettlement/pkg/grpcclient"
	"google.golang.org/grpc"
)

const MethodGetExchangeRates = "/exchangerate.ExchangeRateService/GetExchangeRates"

// GetExchangeRatesRequest 汇率查询请求
type GetExchangeRatesRequest struct {
	BaseCode string `json:"baseCode"`
}

// ExchangeRatesReply 汇率表应答，字段沿用汇率服务的驼峰命名
type ExchangeRatesReply struct {
	BaseCode           string                     `json:"baseCode"`
	ConversionRates    map[string]decimal.Decimal `json:"conversionRates"`
	TimeLastUpdateUnix int64                      `json:"timeLastUpdateUnix"`
	TimeNextUpdateUnix int64                      `json:"timeNextUpdateUnix"`
}

// RateClientImpl 汇率服务客户端实现
type RateClientImpl struct {
	conn grpc.ClientConnInterface
}

// NewRateClient 从现有连接创建客户端
func NewRateClient(conn grpc.ClientConnInterface) *RateClientImpl {
	return &RateClientImpl{conn: conn}
}

var _ domain.RateClient = (*RateClientImpl)(nil)

// GetRates 获取基础币种的汇率表
func (c *RateClientImpl) GetRates(ctx context.Context, credential, baseCurrency string) (*domain.RateTable, error) {
	var reply ExchangeRatesReply
	err := c.conn.Invoke(outgoing(ctx, credential), MethodGetExchangeRates,
		&GetExchangeRatesRequest{BaseCode: baseCurrency}, &reply,
		grpc.CallContentSubtype(grpcclient.JSONCodecName))
	if err != nil {
		return nil, rateErr("rates.get", err)
	}
	if len(reply.ConversionRates) == 0 {
		return nil, domain.E(domain.KindInvalid, "rates.get", fmt.Errorf("%w: no rates for %s", domain.ErrRateNotFound, baseCurrency))
	}
	return &domain.RateTable{
		BaseCode:        reply.BaseCode,
		ConversionRates: reply.ConversionRates,
		LastUpdateUnix:  reply.TimeLastUpdateUnix,
		NextUpdateUnix:  reply.TimeNextUpdateUnix,
	}, nil
}
