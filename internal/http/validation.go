package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"savings/internal/core"
)

// Input limits are enforced here at the HTTP boundary; the store trusts its
// caller.
type goalInput struct {
	Name         string          `json:"name" validate:"required,min=3,max=50"`
	TargetAmount decimal.Decimal `json:"targetAmount" validate:"gt=0,lte=100000000"`
	Currency     string          `json:"currency" validate:"required,oneof=INR USD"`
}

type goalPatchInput struct {
	Name         *string          `json:"name" validate:"omitnil,min=3,max=50"`
	TargetAmount *decimal.Decimal `json:"targetAmount" validate:"omitnil,gt=0,lte=100000000"`
	Currency     *string          `json:"currency" validate:"omitnil,oneof=INR USD"`
}

type contributionInput struct {
	Amount decimal.Decimal `json:"amount" validate:"gte=1,lte=10000000"`
	Date   string          `json:"date" validate:"required,datetime=2006-01-02,notfuture"`
	Note   string          `json:"note" validate:"max=100"`
}

// FieldErrors maps a request field name to a human readable problem.
type FieldErrors map[string]string

func (fe FieldErrors) add(field, msg string) {
	if _, exists := fe[field]; !exists {
		fe[field] = msg
	}
}

// newValidator builds the validator used for every request. now decides
// what "today" is for the notfuture rule.
func newValidator(now func() time.Time) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// decimals are compared numerically by the gt/gte/lte rules
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("notfuture", func(fl validator.FieldLevel) bool {
		d, err := time.Parse(dateLayout, fl.Field().String())
		if err != nil {
			return false
		}
		t := now()
		today := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return !d.After(today)
	})

	return v
}

// validate runs v over input and merges its failures into fe.
func validate(v *validator.Validate, input any, fe FieldErrors) {
	err := v.Struct(input)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fe.add("_", err.Error())
		return
	}
	for _, e := range verrs {
		fe.add(e.Field(), message(e))
	}
}

func message(e validator.FieldError) string {
	isString := e.Kind() == reflect.String
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if isString {
			return fmt.Sprintf("must be at least %s characters", e.Param())
		}
		return "must be at least " + e.Param()
	case "max":
		if isString {
			return fmt.Sprintf("must be at most %s characters", e.Param())
		}
		return "must be at most " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	case "lte":
		return "must not exceed " + e.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(e.Param(), " ", ", ")
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "notfuture":
		return "cannot be in the future"
	default:
		return "is invalid"
	}
}

// amountField parses key with core.ParseAmount. Parse problems are recorded
// in fe; an absent value is left zero for the struct rules to report.
func amountField(p *RequestBodyParser, key string, fe FieldErrors) decimal.Decimal {
	raw := p.Get(key)
	if raw == "" {
		return decimal.Zero
	}
	amount, err := core.ParseAmount(raw)
	if err != nil {
		fe.add(key, "must be a positive number")
		return decimal.Zero
	}
	return amount
}

// CreateGoalRequest is a validated goal creation.
type CreateGoalRequest struct {
	Name         string
	TargetAmount decimal.Decimal
	Currency     core.Currency
}

func parseCreateGoal(v *validator.Validate, p *RequestBodyParser) (CreateGoalRequest, FieldErrors) {
	fe := FieldErrors{}
	in := goalInput{
		Name:         p.Get("name"),
		TargetAmount: amountField(p, "targetAmount", fe),
		Currency:     strings.ToUpper(p.Get("currency")),
	}
	validate(v, in, fe)
	if len(fe) > 0 {
		return CreateGoalRequest{}, fe
	}
	return CreateGoalRequest{
		Name:         in.Name,
		TargetAmount: in.TargetAmount,
		Currency:     core.Currency(in.Currency),
	}, nil
}

func parseGoalPatch(v *validator.Validate, p *RequestBodyParser) (core.GoalPatch, FieldErrors) {
	fe := FieldErrors{}
	var in goalPatchInput
	if p.Has("name") {
		name := p.Get("name")
		in.Name = &name
	}
	if p.Has("targetAmount") {
		target := amountField(p, "targetAmount", fe)
		in.TargetAmount = &target
	}
	if p.Has("currency") {
		c := strings.ToUpper(p.Get("currency"))
		in.Currency = &c
	}
	validate(v, in, fe)
	if len(fe) > 0 {
		return core.GoalPatch{}, fe
	}

	patch := core.GoalPatch{Name: in.Name, TargetAmount: in.TargetAmount}
	if in.Currency != nil {
		c := core.Currency(*in.Currency)
		patch.Currency = &c
	}
	return patch, nil
}

// ContributionRequest is a validated contribution.
type ContributionRequest struct {
	Amount decimal.Decimal
	Date   time.Time
	Note   string
}

func parseContribution(v *validator.Validate, p *RequestBodyParser) (ContributionRequest, FieldErrors) {
	fe := FieldErrors{}
	in := contributionInput{
		Amount: amountField(p, "amount", fe),
		Date:   p.Get("date"),
		Note:   p.Get("note"),
	}
	validate(v, in, fe)
	if len(fe) > 0 {
		return ContributionRequest{}, fe
	}
	date, err := parseDate(in.Date)
	if err != nil {
		fe.add("date", "must be a date in YYYY-MM-DD format")
		return ContributionRequest{}, fe
	}
	return ContributionRequest{Amount: in.Amount, Date: date, Note: in.Note}, nil
}
