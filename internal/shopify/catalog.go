package shopify

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/crypto-bridge/internal/domain/order"
)

const draftOrderCompleteMutation = `mutation CompleteDraft($id: ID!) {
	draftOrderComplete(id: $id, paymentPending: false) {
		draftOrder { id order { id } }
		userErrors { field message }
	}
}`

const orderMarkAsPaidMutation = `mutation MarkPaid($id: ID!) {
	orderMarkAsPaid(input: { id: $id }) {
		order { id displayFinancialStatus }
		userErrors { field message }
	}
}`

// Catalog implements order.Catalog over the Admin API.
type Catalog struct {
	client *Client
}

var _ order.Catalog = (*Catalog)(nil)

// NewCatalog creates a Catalog.
func NewCatalog(c *Client) *Catalog {
	return &Catalog{client: c}
}

// ResolveByID looks up an order or draft order by global id.
func (c *Catalog) ResolveByID(ctx context.Context, ref, shop string) (*order.Snapshot, error) {
	ref = order.Normalize(strings.TrimSpace(ref))
	if !strings.HasPrefix(ref, order.GIDPrefix) {
		return nil, errors.Wrapf(order.ErrUnsupportedReference, "%q", ref)
	}
	data, err := c.client.do(ctx, shop, nodeQuery, func(e *jx.Encoder) {
		e.FieldStart("id")
		e.Str(ref)
	})
	if err != nil {
		return nil, errors.Wrap(err, "query node")
	}

	var snap *order.Snapshot
	if err := decodeData(data, func(d *jx.Decoder, key string) error {
		if key != "node" {
			return d.Skip()
		}
		s, err := decodeSnapshot(d, order.KindOf(ref))
		snap = s
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode node")
	}
	if snap == nil || snap.ID == "" || snap.Kind == order.KindUnknown {
		return nil, order.ErrNotFound
	}
	return snap, nil
}

// ResolveByName searches orders, then draft orders, by display name.
func (c *Catalog) ResolveByName(ctx context.Context, name, shop string) (*order.Snapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, order.ErrNotFound
	}
	searches := []struct {
		query string
		field string
		kind  order.Kind
	}{
		{ordersByNameQuery, "orders", order.KindOrder},
		{draftOrdersByNameQuery, "draftOrders", order.KindDraftOrder},
	}
	for _, s := range searches {
		data, err := c.client.do(ctx, shop, s.query, func(e *jx.Encoder) {
			e.FieldStart("query")
			e.Str("name:" + name)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "search %s", s.field)
		}
		snap, err := decodeFirstEdge(data, s.field, s.kind)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", s.field)
		}
		if snap != nil {
			return snap, nil
		}
	}
	return nil, order.ErrNotFound
}

// CompleteOrMarkPaid completes a draft order or marks an order paid.
func (c *Catalog) CompleteOrMarkPaid(ctx context.Context, ref, shop string) (*order.Completion, error) {
	ref = order.Normalize(strings.TrimSpace(ref))
	var (
		mutation, field string
	)
	switch order.KindOf(ref) {
	case order.KindDraftOrder:
		mutation, field = draftOrderCompleteMutation, "draftOrderComplete"
	case order.KindOrder:
		mutation, field = orderMarkAsPaidMutation, "orderMarkAsPaid"
	default:
		return nil, errors.Wrapf(order.ErrUnsupportedReference, "%q", ref)
	}
	lg := zctx.From(ctx).With(zap.String("ref", ref), zap.String("mutation", field))

	data, err := c.client.do(ctx, shop, mutation, func(e *jx.Encoder) {
		e.FieldStart("id")
		e.Str(ref)
	})
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) {
		if len(gqlErr.Messages) > 0 && order.IsBenignCompletionError(gqlErr.Messages[0]) {
			lg.Info("Catalog reports order already completed", zap.Strings("errors", gqlErr.Messages))
			return &order.Completion{Benign: true, Warnings: gqlErr.Messages}, nil
		}
		return nil, mutationError(ref, gqlErr.Messages)
	}
	if err != nil {
		return nil, &order.MutationError{Ref: ref, Err: err}
	}

	res, err := decodeMutation(data, field)
	if err != nil {
		return nil, &order.MutationError{Ref: ref, Err: errors.Wrap(err, "decode mutation")}
	}
	if len(res.userErrors) > 0 {
		for _, msg := range res.userErrors {
			if !order.IsBenignCompletionError(msg) {
				return nil, mutationError(ref, res.userErrors)
			}
		}
		lg.Info("Catalog reports order already completed", zap.Strings("user_errors", res.userErrors))
		return &order.Completion{Benign: true, Warnings: res.userErrors}, nil
	}
	return &order.Completion{FinalOrderID: res.orderID}, nil
}

// mutationError wraps order.ErrCatalogConflict when any message is a status
// refusal.
func mutationError(ref string, messages []string) *order.MutationError {
	e := &order.MutationError{Ref: ref, Messages: messages}
	for _, msg := range messages {
		if order.IsConflictCompletionError(msg) {
			e.Err = order.ErrCatalogConflict
			break
		}
	}
	return e
}

type mutationResult struct {
	orderID    string
	userErrors []string
}

func decodeMutation(data jx.Raw, field string) (*mutationResult, error) {
	var res mutationResult
	err := decodeData(data, func(d *jx.Decoder, key string) error {
		if key != field || d.Next() != jx.Object {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "order":
				id, err := decodeID(d, "")
				res.orderID = id
				return err
			case "draftOrder":
				id, err := decodeID(d, "order")
				res.orderID = id
				return err
			case "userErrors":
				if d.Next() != jx.Array {
					return d.Skip()
				}
				return d.Arr(func(d *jx.Decoder) error {
					return d.Obj(func(d *jx.Decoder, key string) error {
						if key != "message" || d.Next() != jx.String {
							return d.Skip()
						}
						msg, err := d.Str()
						res.userErrors = append(res.userErrors, msg)
						return err
					})
				})
			default:
				return d.Skip()
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// decodeID reads obj.id, or obj.<nested>.id when nested is set.
func decodeID(d *jx.Decoder, nested string) (string, error) {
	if d.Next() != jx.Object {
		return "", d.Skip()
	}
	var id string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch {
		case nested == "" && key == "id":
			s, err := decodeString(d)
			id = s
			return err
		case nested != "" && key == nested:
			s, err := decodeID(d, "")
			id = s
			return err
		default:
			return d.Skip()
		}
	})
	return id, err
}

func decodeFirstEdge(data jx.Raw, field string, kind order.Kind) (*order.Snapshot, error) {
	var snap *order.Snapshot
	err := decodeData(data, func(d *jx.Decoder, key string) error {
		if key != field || d.Next() != jx.Object {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "edges" || d.Next() != jx.Array {
				return d.Skip()
			}
			return d.Arr(func(d *jx.Decoder) error {
				if snap != nil || d.Next() != jx.Object {
					return d.Skip()
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "node" {
						return d.Skip()
					}
					s, err := decodeSnapshot(d, kind)
					snap = s
					return err
				})
			})
		})
	})
	return snap, err
}

// decodeData iterates the members of a "data" object. A null or absent data
// member yields no calls.
func decodeData(data jx.Raw, f func(d *jx.Decoder, key string) error) error {
	if len(data) == 0 {
		return nil
	}
	d := jx.DecodeBytes(data)
	if d.Next() == jx.Null {
		return nil
	}
	return d.Obj(f)
}
