package dto

import (
	calldomain "commhub-backend/internal/call/domain"
)

type CallsResponse struct {
	Calls  []calldomain.CallLog `json:"calls"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
	Total  int64                `json:"total"`
}
