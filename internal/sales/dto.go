package sales

import (
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atelier-b2b/atelier/internal/catalog"
	"github.com/atelier-b2b/atelier/internal/platform/httpx"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// bind decodes the JSON body into dest and validates its tags.
func bind(r *http.Request, dest any) error {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		return err
	}
	if err := validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		msgs = append(msgs, field+" "+validationMessage(fe))
	}
	sort.Strings(msgs)
	return fmt.Errorf("%w: %s", httpx.ErrBadRequest, strings.Join(msgs, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	}
	return "is invalid"
}

type createRequestPayload struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type notesPayload struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type itemPayload struct {
	Kind            catalog.RefKind `json:"kind" validate:"required,oneof=internal external"`
	SKU             string          `json:"sku" validate:"max=64"`
	CatalogRef      string          `json:"catalog_ref" validate:"max=128"`
	ManufacturerRef string          `json:"manufacturer_ref" validate:"max=128"`
	Quantity        int             `json:"quantity" validate:"required,min=1"`
}

func (p itemPayload) input() ItemInput {
	return ItemInput{
		Product: catalog.Ref{
			Kind:            p.Kind,
			SKU:             p.SKU,
			CatalogRef:      p.CatalogRef,
			ManufacturerRef: p.ManufacturerRef,
		},
		Quantity: p.Quantity,
	}
}

type quantityPayload struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type assignPayload struct {
	SalesPersonID int64 `json:"sales_person_id" validate:"required,gt=0"`
}

type linePayload struct {
	RequestItemID int64            `json:"request_item_id" validate:"required,gt=0"`
	UnitPrice     *decimal.Decimal `json:"unit_price"`
}

func lineInputs(in []linePayload) []LineInput {
	out := make([]LineInput, 0, len(in))
	for _, l := range in {
		out = append(out, LineInput{RequestItemID: l.RequestItemID, UnitPrice: l.UnitPrice})
	}
	return out
}

type createQuotationPayload struct {
	Lines []linePayload `json:"lines" validate:"required,min=1,dive"`
	Terms string        `json:"terms" validate:"max=4000"`
}

type reviseQuotationPayload struct {
	Lines []linePayload `json:"lines" validate:"required,min=1,dive"`
}

type reasonPayload struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type messagePayload struct {
	Message string `json:"message" validate:"max=2000"`
}

type counterLinePayload struct {
	QuotationLineID int64           `json:"quotation_line_id" validate:"required,gt=0"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

type counterPayload struct {
	Lines   []counterLinePayload `json:"lines" validate:"required,min=1,dive"`
	Message string               `json:"message" validate:"max=2000"`
}

func (p counterPayload) input() []CounterLine {
	out := make([]CounterLine, 0, len(p.Lines))
	for _, l := range p.Lines {
		out = append(out, CounterLine{QuotationLineID: l.QuotationLineID, UnitPrice: l.UnitPrice})
	}
	return out
}

type paymentLinkPayload struct {
	Amount *decimal.Decimal `json:"amount"`
	Method string           `json:"method" validate:"omitempty,oneof=bank_transfer card virtual_account"`
}

type confirmPaymentPayload struct {
	PaymentID  int64  `json:"payment_id" validate:"gte=0"`
	Source     string `json:"source" validate:"omitempty,oneof=manual gateway"`
	GatewayRef string `json:"gateway_ref" validate:"max=128"`
}

type balancePayload struct {
	DueAt time.Time `json:"due_at" validate:"required"`
}

type finalCheckPayload struct {
	Approve *bool  `json:"approve" validate:"required"`
	Note    string `json:"note" validate:"max=1000"`
}

type deliveredLinePayload struct {
	OrderLineID int64 `json:"order_line_id" validate:"required,gt=0"`
	Quantity    int   `json:"quantity" validate:"gte=0"`
}

type milestonePayload struct {
	Status    OrderStatus            `json:"status" validate:"required,oneof=in_procurement partially_shipped shipped partially_delivered delivered"`
	Delivered []deliveredLinePayload `json:"delivered" validate:"dive"`
}

func (p milestonePayload) lines() []DeliveredLine {
	out := make([]DeliveredLine, 0, len(p.Delivered))
	for _, l := range p.Delivered {
		out = append(out, DeliveredLine{OrderLineID: l.OrderLineID, Quantity: l.Quantity})
	}
	return out
}
