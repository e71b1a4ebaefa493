package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Webhook headers.
const (
	HmacHeader       = "X-Shopify-Hmac-Sha256"
	ShopDomainHeader = "X-Shopify-Shop-Domain"
	TopicHeader      = "X-Shopify-Topic"
)

// VerifyWebhook reports whether signature is the base64 HMAC-SHA256 of body
// under secret.
func VerifyWebhook(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// OrderWebhook is the subset of an orders/* webhook payload the bridge uses.
type OrderWebhook struct {
	// AdminGraphQLID is the order global id.
	AdminGraphQLID string
	Name           string
	Email          string
}

// ParseOrderWebhook decodes an orders/* webhook body.
func ParseOrderWebhook(body []byte) (*OrderWebhook, error) {
	var w OrderWebhook
	if err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "admin_graphql_api_id":
			w.AdminGraphQLID, err = decodeString(d)
		case "name":
			w.Name, err = decodeString(d)
		case "email":
			w.Email, err = decodeString(d)
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode webhook")
	}
	return &w, nil
}
