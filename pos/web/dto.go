package web

import (
	"fmt"
	"time"

	"tablio.com/tablio/pos/model"
)

func orderToFailedDTO(o model.OfflineOrder) FailedRecordDTO {
	return FailedRecordDTO{
		Category:   "order",
		ID:         o.LocalID,
		RetryCount: o.RetryCount,
		Error:      deref(o.Error),
		CreatedAt:  o.CreatedAt.Format(time.RFC3339),
	}
}

func paymentToFailedDTO(p model.OfflinePayment) FailedRecordDTO {
	return FailedRecordDTO{
		Category:   "payment",
		ID:         p.LocalID,
		RetryCount: p.RetryCount,
		Error:      deref(p.Error),
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
}

func operationToFailedDTO(op model.QueuedOperation) FailedRecordDTO {
	return FailedRecordDTO{
		Category:   "operation",
		ID:         fmt.Sprint(op.ID),
		RetryCount: op.RetryCount,
		Error:      deref(op.Error),
		CreatedAt:  op.CreatedAt.Format(time.RFC3339),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
