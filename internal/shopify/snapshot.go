package shopify

import (
	"strings"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/crypto-bridge/internal/domain/money"
	"github.com/xenking/crypto-bridge/internal/domain/order"
)

const moneyBagFields = `shopMoney { amount currencyCode } presentmentMoney { amount currencyCode }`

const orderFields = `
	id
	name
	email
	displayFinancialStatus
	currencyCode
	totalOutstandingSet { ` + moneyBagFields + ` }
	totalPriceSet { ` + moneyBagFields + ` }
	currentSubtotalPriceSet { ` + moneyBagFields + ` }`

const draftOrderFields = `
	id
	name
	email
	status
	invoiceUrl
	currencyCode
	totalPriceSet { ` + moneyBagFields + ` }
	subtotalPriceSet { ` + moneyBagFields + ` }`

const nodeQuery = `query GetForInvoice($id: ID!) {
	node(id: $id) {
		__typename
		... on Order {` + orderFields + `
		}
		... on DraftOrder {` + draftOrderFields + `
		}
	}
}`

const ordersByNameQuery = `query OrdersByName($query: String!) {
	orders(first: 1, query: $query) {
		edges { node {` + orderFields + `
		} }
	}
}`

const draftOrdersByNameQuery = `query DraftOrdersByName($query: String!) {
	draftOrders(first: 1, query: $query) {
		edges { node {
			__typename` + draftOrderFields + `
		} }
	}
}`

// decodeSnapshot reads an Order or DraftOrder object. It returns nil for a
// JSON null. kind is used when the object carries no __typename.
func decodeSnapshot(d *jx.Decoder, kind order.Kind) (*order.Snapshot, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s := &order.Snapshot{Kind: kind}
	var draftStatus string
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "__typename":
			var t string
			if t, err = decodeString(d); err == nil {
				s.Kind = kindOfTypename(t)
			}
		case "id":
			s.ID, err = decodeString(d)
		case "name":
			s.Name, err = decodeString(d)
		case "email":
			s.Email, err = decodeString(d)
		case "financialStatus":
			s.FinancialStatus, err = decodeString(d)
		case "displayFinancialStatus":
			s.DisplayFinancialStatus, err = decodeString(d)
		case "status":
			draftStatus, err = decodeString(d)
		case "currencyCode":
			s.CurrencyCode, err = decodeString(d)
		case "invoiceUrl":
			s.InvoiceURL, err = decodeString(d)
		case "totalOutstandingSet":
			s.TotalOutstanding, err = decodeMoneyBag(d)
		case "totalPriceSet":
			s.TotalPrice, err = decodeMoneyBag(d)
		case "presentmentTotalPriceSet":
			s.PresentmentTotalPrice, err = decodeMoneyBag(d)
		case "currentSubtotalPriceSet", "subtotalPriceSet":
			s.CurrentSubtotal, err = decodeMoneyBag(d)
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		return nil, err
	}
	if s.Kind == order.KindUnknown {
		s.Kind = order.KindOf(s.ID)
	}
	// Draft orders carry a lifecycle status instead of a financial one. A
	// completed draft has been turned into a paid order.
	if s.Kind == order.KindDraftOrder && s.DisplayFinancialStatus == "" {
		if strings.EqualFold(draftStatus, "COMPLETED") {
			s.DisplayFinancialStatus = "PAID"
		} else {
			s.DisplayFinancialStatus = "PENDING"
		}
	}
	return s, nil
}

func kindOfTypename(t string) order.Kind {
	switch t {
	case "Order":
		return order.KindOrder
	case "DraftOrder":
		return order.KindDraftOrder
	default:
		return order.KindUnknown
	}
}

func decodeMoneyBag(d *jx.Decoder) (order.MoneySet, error) {
	var set order.MoneySet
	if d.Next() == jx.Null {
		return set, d.Null()
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "shopMoney":
			set.Shop, err = decodeMoney(d)
		case "presentmentMoney":
			set.Presentment, err = decodeMoney(d)
		default:
			return d.Skip()
		}
		return err
	})
	return set, err
}

// decodeMoney reads {amount, currencyCode}. Amounts are decimal strings in
// the Admin API; numbers are accepted too.
func decodeMoney(d *jx.Decoder) (*money.Money, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var (
		amount   decimal.Decimal
		currency string
		seen     bool
	)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "amount":
			var raw string
			switch d.Next() {
			case jx.String:
				s, err := d.Str()
				if err != nil {
					return err
				}
				raw = s
			case jx.Number:
				n, err := d.Num()
				if err != nil {
					return err
				}
				raw = n.String()
			default:
				return d.Skip()
			}
			v, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				return err
			}
			amount, seen = v, true
			return nil
		case "currencyCode":
			s, err := decodeString(d)
			currency = s
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, err
	}
	if !seen {
		return nil, nil
	}
	// Currency stays empty here so the order currency can fill it in.
	return &money.Money{Amount: amount, Currency: strings.ToUpper(currency)}, nil
}

func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
