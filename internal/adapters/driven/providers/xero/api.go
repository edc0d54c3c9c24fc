package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/providers"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

type item struct {
	ItemID         string  `json:"ItemID"`
	Code           string  `json:"Code"`
	Name           string  `json:"Name"`
	Description    string  `json:"Description"`
	QuantityOnHand float64 `json:"QuantityOnHand"`
	SalesDetails   *struct {
		UnitPrice float64 `json:"UnitPrice"`
	} `json:"SalesDetails"`
}

type contact struct {
	ContactID     string `json:"ContactID"`
	Name          string `json:"Name"`
	EmailAddress  string `json:"EmailAddress"`
	ContactStatus string `json:"ContactStatus"`
}

type validationError struct {
	Message string `json:"Message"`
}

type lineItem struct {
	ItemCode    string  `json:"ItemCode,omitempty"`
	Description string  `json:"Description,omitempty"`
	Quantity    float64 `json:"Quantity"`
	UnitAmount  float64 `json:"UnitAmount"`
	LineAmount  float64 `json:"LineAmount"`
}

type quote struct {
	QuoteID     string `json:"QuoteID,omitempty"`
	QuoteNumber string `json:"QuoteNumber,omitempty"`
	Reference   string `json:"Reference,omitempty"`
	Summary     string `json:"Summary,omitempty"`
	Date        string `json:"Date,omitempty"`
	Contact     struct {
		ContactID string `json:"ContactID"`
	} `json:"Contact"`
	LineItems        []lineItem        `json:"LineItems"`
	ValidationErrors []validationError `json:"ValidationErrors,omitempty"`
}

// apiException is the body of a 400 from the accounting API.
type apiException struct {
	ErrorNumber int    `json:"ErrorNumber"`
	Type        string `json:"Type"`
	Message     string `json:"Message"`
	Elements    []struct {
		ValidationErrors []validationError `json:"ValidationErrors"`
	} `json:"Elements"`
}

// idClaims are the identity claims in Xero's id_token.
type idClaims struct {
	XeroUserID string `json:"xero_userid"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	jwt.RegisteredClaims
}

// FetchUserInfo reads the user from the id_token issued with the grant.
// The token came straight from the token endpoint over TLS, so its
// signature is not checked again here.
func (a *Adapter) FetchUserInfo(_ context.Context, token *domain.TokenRecord) (*domain.UserInfo, error) {
	raw := providers.RawField(token.Raw, "id_token")
	if raw == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderXero, Op: "user info", Message: "no id_token on grant"}
	}

	var claims idClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderXero, Op: "user info", Err: fmt.Errorf("parse id_token: %w", err)}
	}

	id := claims.XeroUserID
	if id == "" {
		id = claims.Subject
	}
	return &domain.UserInfo{
		ID:    id,
		Email: claims.Email,
		Name:  strings.TrimSpace(claims.GivenName + " " + claims.FamilyName),
	}, nil
}

// FetchCompanyInfo reads the tenant's organisation.
func (a *Adapter) FetchCompanyInfo(ctx context.Context, token *domain.TokenRecord) (*domain.CompanyInfo, error) {
	var out struct {
		Organisations []struct {
			OrganisationID string `json:"OrganisationID"`
			Name           string `json:"Name"`
			LegalName      string `json:"LegalName"`
			CountryCode    string `json:"CountryCode"`
			BaseCurrency   string `json:"BaseCurrency"`
		} `json:"Organisations"`
	}
	if err := a.do(ctx, token, http.MethodGet, "Organisation", nil, nil, "company info", &out); err != nil {
		return nil, err
	}
	if len(out.Organisations) == 0 {
		return nil, &domain.ProviderError{Provider: domain.ProviderXero, Op: "company info", Message: "no organisation returned"}
	}

	org := out.Organisations[0]
	return &domain.CompanyInfo{
		TenantID:    token.TenantID,
		Name:        org.Name,
		LegalName:   org.LegalName,
		Country:     org.CountryCode,
		CurrencyISO: org.BaseCurrency,
	}, nil
}

// FetchItemsPage returns every item in one page.
// The Items endpoint does not page, so the cursor is ignored and there is
// never a next page.
func (a *Adapter) FetchItemsPage(ctx context.Context, token *domain.TokenRecord, cursor domain.Cursor) (*domain.ItemPage, error) {
	var out struct {
		Items []item `json:"Items"`
	}
	if err := a.do(ctx, token, http.MethodGet, "Items", nil, nil, "fetch items", &out); err != nil {
		return nil, err
	}

	items := make([]domain.RemoteItem, 0, len(out.Items))
	for _, it := range out.Items {
		ri := domain.RemoteItem{
			ExternalID:     it.ItemID,
			SKU:            it.Code,
			Name:           it.Name,
			Description:    it.Description,
			QuantityOnHand: it.QuantityOnHand,
		}
		if it.SalesDetails != nil {
			ri.Price = it.SalesDetails.UnitPrice
		}
		items = append(items, ri)
	}

	return &domain.ItemPage{Items: items}, nil
}

// FetchCustomersPage returns one numbered page of contacts, archived ones included.
func (a *Adapter) FetchCustomersPage(ctx context.Context, token *domain.TokenRecord, cursor domain.Cursor) (*domain.CustomerPage, error) {
	params := pageParams(cursor)
	params.Set("includeArchived", "true")

	var out struct {
		Contacts []contact `json:"Contacts"`
	}
	if err := a.do(ctx, token, http.MethodGet, "Contacts", params, nil, "fetch customers", &out); err != nil {
		return nil, err
	}

	customers := make([]domain.RemoteCustomer, 0, len(out.Contacts))
	for _, c := range out.Contacts {
		customers = append(customers, domain.RemoteCustomer{
			ExternalID:  c.ContactID,
			DisplayName: c.Name,
			Email:       c.EmailAddress,
			Archived:    strings.EqualFold(c.ContactStatus, "ARCHIVED"),
		})
	}
	return &domain.CustomerPage{Customers: customers, Next: cursor.NextPage(len(customers))}, nil
}

// CreateEstimate creates a draft Quote. Xero reports per-document validation
// problems inside the response; those come back as *domain.RemoteDocumentFault.
// Quote lines reference items by code only, so a line without a SKU is
// rejected before anything is sent.
func (a *Adapter) CreateEstimate(ctx context.Context, token *domain.TokenRecord, payload *domain.EstimatePayload) (*domain.RemoteDocumentRef, error) {
	verr := &domain.ValidationError{}
	for i, l := range payload.Lines {
		if strings.TrimSpace(l.SKU) == "" {
			verr.Add("line %d (%s): item code is required", i+1, l.Description)
		}
	}
	if verr.HasProblems() {
		return nil, verr
	}

	q := quote{
		QuoteNumber: payload.DocNumber,
		Reference:   payload.DocNumber,
		Summary:     payload.Memo,
	}
	q.Contact.ContactID = payload.CustomerExternalID
	date := payload.TxnDate
	if date.IsZero() {
		date = a.now()
	}
	q.Date = date.Format("2006-01-02")
	for _, l := range payload.Lines {
		q.LineItems = append(q.LineItems, lineItem{
			ItemCode:    l.SKU,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitAmount:  l.UnitPrice,
			LineAmount:  l.Amount,
		})
	}

	body, err := json.Marshal(map[string][]quote{"Quotes": {q}})
	if err != nil {
		return nil, fmt.Errorf("marshal quote: %w", err)
	}

	var out struct {
		Quotes []quote `json:"Quotes"`
	}
	params := url.Values{"summarizeErrors": {"false"}}
	if err := a.do(ctx, token, http.MethodPut, "Quotes", params, bytes.NewReader(body), "create estimate", &out); err != nil {
		return nil, err
	}
	if len(out.Quotes) == 0 {
		return nil, &domain.ProviderError{Provider: domain.ProviderXero, Op: "create estimate", Message: "response carried no quote"}
	}

	created := out.Quotes[0]
	if len(created.ValidationErrors) > 0 {
		return nil, &domain.RemoteDocumentFault{
			Provider: domain.ProviderXero,
			Code:     "ValidationError",
			Message:  joinMessages(created.ValidationErrors),
		}
	}
	if created.QuoteID == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderXero, Op: "create estimate", Message: "response carried no quote id"}
	}

	return &domain.RemoteDocumentRef{
		ID:     created.QuoteID,
		Number: created.QuoteNumber,
		URL:    a.appBaseURL + "/app/quotes/edit/" + url.PathEscape(created.QuoteID),
	}, nil
}

func pageParams(cursor domain.Cursor) url.Values {
	return url.Values{
		"page":     {strconv.Itoa(cursor.Position)},
		"pageSize": {strconv.Itoa(cursor.PageSize)},
	}
}

func joinMessages(errs []validationError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

// do sends an authorized, tenant-scoped request and decodes the JSON response.
func (a *Adapter) do(ctx context.Context, token *domain.TokenRecord, method, resource string, params url.Values, body io.Reader, op string, out any) error {
	endpoint := a.apiBaseURL + "/" + resource
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set(tenantHeader, token.TenantID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, status, err := providers.Send(a.http, domain.ProviderXero, op, req)
	if err != nil {
		return err
	}

	if status == http.StatusBadRequest {
		var exc apiException
		if json.Unmarshal(respBody, &exc) == nil && exc.Type != "" {
			if op == "create estimate" {
				var details []validationError
				for _, el := range exc.Elements {
					details = append(details, el.ValidationErrors...)
				}
				return &domain.RemoteDocumentFault{
					Provider: domain.ProviderXero,
					Code:     exc.Type,
					Message:  exc.Message,
					Detail:   joinMessages(details),
				}
			}
			return &domain.ProviderError{Provider: domain.ProviderXero, Op: op, StatusCode: status, Code: exc.Type, Message: exc.Message}
		}
	}
	if !providers.IsSuccess(status) {
		return providers.StatusError(domain.ProviderXero, op, status, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.ProviderError{Provider: domain.ProviderXero, Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
