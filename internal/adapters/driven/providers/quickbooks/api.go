package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/providers"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// fault is the error envelope of the accounting API.
type fault struct {
	Fault *struct {
		Type  string `json:"type"`
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
	} `json:"Fault"`
}

type ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type item struct {
	ID          string  `json:"Id"`
	Name        string  `json:"Name"`
	Sku         string  `json:"Sku"`
	Description string  `json:"Description"`
	UnitPrice   float64 `json:"UnitPrice"`
	QtyOnHand   float64 `json:"QtyOnHand"`
	Active      *bool   `json:"Active"`
}

type customer struct {
	ID               string `json:"Id"`
	DisplayName      string `json:"DisplayName"`
	PrimaryEmailAddr *struct {
		Address string `json:"Address"`
	} `json:"PrimaryEmailAddr"`
	Active *bool `json:"Active"`
}

type queryResponse struct {
	QueryResponse struct {
		Item          []item     `json:"Item"`
		Customer      []customer `json:"Customer"`
		StartPosition int        `json:"startPosition"`
		MaxResults    int        `json:"maxResults"`
	} `json:"QueryResponse"`
}

type estimateLine struct {
	DetailType          string  `json:"DetailType"`
	Amount              float64 `json:"Amount"`
	Description         string  `json:"Description,omitempty"`
	SalesItemLineDetail struct {
		ItemRef   ref     `json:"ItemRef"`
		Qty       float64 `json:"Qty"`
		UnitPrice float64 `json:"UnitPrice"`
	} `json:"SalesItemLineDetail"`
}

type estimate struct {
	ID           string         `json:"Id,omitempty"`
	DocNumber    string         `json:"DocNumber,omitempty"`
	TxnDate      string         `json:"TxnDate,omitempty"`
	CustomerRef  ref            `json:"CustomerRef"`
	CustomerMemo *ref           `json:"CustomerMemo,omitempty"`
	PrivateNote  string         `json:"PrivateNote,omitempty"`
	Line         []estimateLine `json:"Line"`
}

// FetchUserInfo reads the OpenID Connect profile of the authorizing user.
func (a *Adapter) FetchUserInfo(ctx context.Context, token *domain.TokenRecord) (*domain.UserInfo, error) {
	var out struct {
		Sub        string `json:"sub"`
		Email      string `json:"email"`
		GivenName  string `json:"givenName"`
		FamilyName string `json:"familyName"`
	}
	if err := a.do(ctx, token, http.MethodGet, a.userInfoURL, nil, "user info", &out); err != nil {
		return nil, err
	}
	return &domain.UserInfo{
		ID:    out.Sub,
		Email: out.Email,
		Name:  strings.TrimSpace(out.GivenName + " " + out.FamilyName),
	}, nil
}

// FetchCompanyInfo reads the realm's company record.
func (a *Adapter) FetchCompanyInfo(ctx context.Context, token *domain.TokenRecord) (*domain.CompanyInfo, error) {
	realm := token.TenantID
	var out struct {
		CompanyInfo struct {
			ID          string `json:"Id"`
			CompanyName string `json:"CompanyName"`
			LegalName   string `json:"LegalName"`
			Country     string `json:"Country"`
		} `json:"CompanyInfo"`
	}
	endpoint := a.companyURL(realm, "companyinfo/"+url.PathEscape(realm), nil)
	if err := a.do(ctx, token, http.MethodGet, endpoint, nil, "company info", &out); err != nil {
		return nil, err
	}
	return &domain.CompanyInfo{
		TenantID:  realm,
		Name:      out.CompanyInfo.CompanyName,
		LegalName: out.CompanyInfo.LegalName,
		Country:   out.CompanyInfo.Country,
	}, nil
}

// FetchItemsPage runs an offset-paged Item query, inactive items included.
func (a *Adapter) FetchItemsPage(ctx context.Context, token *domain.TokenRecord, cursor domain.Cursor) (*domain.ItemPage, error) {
	var out queryResponse
	if err := a.query(ctx, token, "Item", cursor, "fetch items", &out); err != nil {
		return nil, err
	}

	items := make([]domain.RemoteItem, 0, len(out.QueryResponse.Item))
	for _, it := range out.QueryResponse.Item {
		items = append(items, domain.RemoteItem{
			ExternalID:     it.ID,
			SKU:            it.Sku,
			Name:           it.Name,
			Description:    it.Description,
			Price:          it.UnitPrice,
			QuantityOnHand: it.QtyOnHand,
			Archived:       it.Active != nil && !*it.Active,
		})
	}
	return &domain.ItemPage{Items: items, Next: cursor.NextOffset(len(items))}, nil
}

// FetchCustomersPage runs an offset-paged Customer query, inactive customers included.
func (a *Adapter) FetchCustomersPage(ctx context.Context, token *domain.TokenRecord, cursor domain.Cursor) (*domain.CustomerPage, error) {
	var out queryResponse
	if err := a.query(ctx, token, "Customer", cursor, "fetch customers", &out); err != nil {
		return nil, err
	}

	customers := make([]domain.RemoteCustomer, 0, len(out.QueryResponse.Customer))
	for _, c := range out.QueryResponse.Customer {
		rc := domain.RemoteCustomer{
			ExternalID:  c.ID,
			DisplayName: c.DisplayName,
			Archived:    c.Active != nil && !*c.Active,
		}
		if c.PrimaryEmailAddr != nil {
			rc.Email = c.PrimaryEmailAddr.Address
		}
		customers = append(customers, rc)
	}
	return &domain.CustomerPage{Customers: customers, Next: cursor.NextOffset(len(customers))}, nil
}

// CreateEstimate posts an Estimate. Validation faults come back as
// *domain.RemoteDocumentFault carrying Intuit's message and detail.
func (a *Adapter) CreateEstimate(ctx context.Context, token *domain.TokenRecord, payload *domain.EstimatePayload) (*domain.RemoteDocumentRef, error) {
	est := estimate{
		DocNumber:   payload.DocNumber,
		CustomerRef: ref{Value: payload.CustomerExternalID},
		PrivateNote: payload.Memo,
	}
	if !payload.TxnDate.IsZero() {
		est.TxnDate = payload.TxnDate.Format("2006-01-02")
	}
	if payload.Memo != "" {
		est.CustomerMemo = &ref{Value: payload.Memo}
	}
	for _, l := range payload.Lines {
		line := estimateLine{
			DetailType:  "SalesItemLineDetail",
			Amount:      l.Amount,
			Description: l.Description,
		}
		line.SalesItemLineDetail.ItemRef = ref{Value: l.ExternalItemID}
		line.SalesItemLineDetail.Qty = l.Quantity
		line.SalesItemLineDetail.UnitPrice = l.UnitPrice
		est.Line = append(est.Line, line)
	}

	body, err := json.Marshal(est)
	if err != nil {
		return nil, fmt.Errorf("marshal estimate: %w", err)
	}

	var out struct {
		Estimate estimate `json:"Estimate"`
	}
	endpoint := a.companyURL(token.TenantID, "estimate", nil)
	if err := a.do(ctx, token, http.MethodPost, endpoint, bytes.NewReader(body), "create estimate", &out); err != nil {
		return nil, err
	}
	if out.Estimate.ID == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderQuickBooks, Op: "create estimate", Message: "response carried no estimate id"}
	}

	return &domain.RemoteDocumentRef{
		ID:     out.Estimate.ID,
		Number: out.Estimate.DocNumber,
		URL:    a.appBaseURL + "/app/estimate?txnId=" + url.QueryEscape(out.Estimate.ID),
	}, nil
}

func (a *Adapter) query(ctx context.Context, token *domain.TokenRecord, entity string, cursor domain.Cursor, op string, out any) error {
	q := fmt.Sprintf("SELECT * FROM %s WHERE Active IN (true, false) ORDERBY Id STARTPOSITION %d MAXRESULTS %d",
		entity, cursor.Position, cursor.PageSize)
	endpoint := a.companyURL(token.TenantID, "query", url.Values{"query": {q}})
	return a.do(ctx, token, http.MethodGet, endpoint, nil, op, out)
}

func (a *Adapter) companyURL(realm, resource string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("minorversion", a.minorVersion)
	return fmt.Sprintf("%s/v3/company/%s/%s?%s", a.apiBaseURL, url.PathEscape(realm), resource, params.Encode())
}

// do sends an authorized request and decodes a JSON response into out.
func (a *Adapter) do(ctx context.Context, token *domain.TokenRecord, method, endpoint string, body io.Reader, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, status, err := providers.Send(a.http, domain.ProviderQuickBooks, op, req)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return providers.StatusError(domain.ProviderQuickBooks, op, status, respBody)
	}

	var f fault
	_ = json.Unmarshal(respBody, &f)
	if f.Fault != nil && len(f.Fault.Error) > 0 {
		first := f.Fault.Error[0]
		if op == "create estimate" && status < http.StatusInternalServerError {
			return &domain.RemoteDocumentFault{
				Provider: domain.ProviderQuickBooks,
				Code:     first.Code,
				Message:  first.Message,
				Detail:   first.Detail,
			}
		}
		return &domain.ProviderError{
			Provider:   domain.ProviderQuickBooks,
			Op:         op,
			StatusCode: status,
			Code:       first.Code,
			Message:    strings.TrimSpace(first.Message + " " + first.Detail),
		}
	}
	if !providers.IsSuccess(status) {
		return providers.StatusError(domain.ProviderQuickBooks, op, status, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.ProviderError{Provider: domain.ProviderQuickBooks, Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
