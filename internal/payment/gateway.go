// README: Payment gateway client: Razorpay orders and payment signature checks through razorpay-go.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

var ErrGateway = errors.New("payment gateway error")

type Gateway struct {
	client    *razorpay.Client
	keySecret string
}

// NewGateway builds a client against baseURL (the API host, without /v1).
func NewGateway(baseURL, keyID, keySecret string) (*Gateway, error) {
	if keyID == "" || keySecret == "" {
		return nil, errors.New("payment key id and secret are required")
	}
	client := razorpay.NewClient(keyID, keySecret)
	if baseURL != "" {
		client.Request.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Gateway{client: client, keySecret: keySecret}, nil
}

// CreateOrder opens an order for amountMinor (paise for INR) and returns its id.
func (g *Gateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
	}
	if receipt != "" {
		data["receipt"] = receipt
	}
	body, err := g.client.Order.Create(data, nil)
	if err != nil {
		return "", fmt.Errorf("%w: create order: %v", ErrGateway, err)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return "", fmt.Errorf("%w: order response without id", ErrGateway)
	}
	return id, nil
}

// VerifySignature checks the checkout signature over orderID|paymentID.
func (g *Gateway) VerifySignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	params := map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
	}
	return utils.VerifyPaymentSignature(params, signature, g.keySecret)
}

// Sign returns the hex signature checkout would attach to a payment.
func (g *Gateway) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(g.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
