package model

// SePayWebhook is the IPN body posted by SePay for a bank transfer.
type SePayWebhook struct {
	ID              int64  `json:"id" validate:"required"`
	Gateway         string `json:"gateway"`
	TransactionDate string `json:"transactionDate"`
	AccountNumber   string `json:"accountNumber"`
	Code            string `json:"code"`
	Content         string `json:"content"`
	TransferType    string `json:"transferType" validate:"required,oneof=in out"`
	TransferAmount  int64  `json:"transferAmount" validate:"gte=0"`
	ReferenceCode   string `json:"referenceCode"`
}

// PaymentWebhookResponse acknowledges an IPN call.
type PaymentWebhookResponse struct {
	Success  bool   `json:"success"`
	Credited int64  `json:"credited"`
	OwnerID  string `json:"owner_id,omitempty"`
}
