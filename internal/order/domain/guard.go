package domain

// CanFulfill 发起方不能成交自己的订单
func CanFulfill(o *Order, callerID string) bool {
	return callerID != o.InitiatorID
}

// CanCancel 仅发起方可撤销待成交订单
func CanCancel(o *Order, callerID string) bool {
	return callerID == o.InitiatorID && o.Status == OrderStatusPending
}
