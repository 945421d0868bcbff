package aggregator

// Credentials is the user-supplied aggregator secret pair.
type Credentials struct {
	SecretID  string `json:"secret_id" validate:"required"`
	SecretKey string `json:"secret_key" validate:"required"`
}

// TokenPair is the persisted two-tier token. Expiries are absolute epoch
// seconds; the wire format carries relative lifetimes (see tokenResponse).
type TokenPair struct {
	Access           string `json:"access"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	Refresh          string `json:"refresh"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

// tokenResponse is the token endpoint wire shape. access_expires and
// refresh_expires are lifetimes in seconds. The refresh endpoint omits the
// refresh fields unless the server rotates the refresh token.
type tokenResponse struct {
	Access         string `json:"access"`
	AccessExpires  int64  `json:"access_expires"`
	Refresh        string `json:"refresh,omitempty"`
	RefreshExpires int64  `json:"refresh_expires,omitempty"`
}

// Institution is read-only reference data fetched per country.
type Institution struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	BIC            string   `json:"bic,omitempty"`
	MaxHistoryDays string   `json:"transaction_total_days,omitempty"`
	Countries      []string `json:"countries,omitempty"`
	Logo           string   `json:"logo,omitempty"`
}

// AgreementRequest creates an end-user agreement for one linking attempt.
type AgreementRequest struct {
	InstitutionID      string   `json:"institution_id"`
	MaxHistoricalDays  int      `json:"max_historical_days,omitempty"`
	AccessValidForDays int      `json:"access_valid_for_days,omitempty"`
	AccessScope        []string `json:"access_scope,omitempty"`
}

// Agreement is immutable after creation.
type Agreement struct {
	ID                 string   `json:"id"`
	InstitutionID      string   `json:"institution_id"`
	MaxHistoricalDays  int      `json:"max_historical_days"`
	AccessValidForDays int      `json:"access_valid_for_days"`
	AccessScope        []string `json:"access_scope"`
	Accepted           string   `json:"accepted,omitempty"`
}

// RequisitionRequest starts a bank-consent handshake.
type RequisitionRequest struct {
	InstitutionID string `json:"institution_id"`
	Redirect      string `json:"redirect"`
	Reference     string `json:"reference"`
	UserLanguage  string `json:"user_language,omitempty"`
	Agreement     string `json:"agreement,omitempty"`
}

// Requisition is the tracked consent handshake. Accounts is populated only
// once the status reaches the linked terminal state.
type Requisition struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	InstitutionID string   `json:"institution_id"`
	AgreementID   string   `json:"agreement,omitempty"`
	Reference     string   `json:"reference"`
	Accounts      []string `json:"accounts"`
	Link          string   `json:"link,omitempty"`
	Created       string   `json:"created,omitempty"`
}

// AccountMetadata is the aggregator-side account record.
type AccountMetadata struct {
	ID            string `json:"id"`
	InstitutionID string `json:"institution_id"`
	Status        string `json:"status,omitempty"`
	IBAN          string `json:"iban,omitempty"`
	Created       string `json:"created,omitempty"`
	LastAccessed  string `json:"last_accessed,omitempty"`
}

// AccountDetails is the detail sub-resource; the interesting fields live
// under the nested account object.
type AccountDetails struct {
	Account struct {
		IBAN      string `json:"iban,omitempty"`
		OwnerName string `json:"ownerName,omitempty"`
		Currency  string `json:"currency,omitempty"`
		Name      string `json:"name,omitempty"`
	} `json:"account"`
}

// Amount is the aggregator's string-typed money representation.
type Amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Balance is one of possibly several balances per account.
type Balance struct {
	BalanceAmount Amount `json:"balanceAmount"`
	BalanceType   string `json:"balanceType"`
	ReferenceDate string `json:"referenceDate,omitempty"`
}

// Transaction is the aggregator wire shape. Most fields are optional;
// mapping treats every one of them as genuinely absent-capable.
type Transaction struct {
	TransactionID         string `json:"transactionId,omitempty"`
	InternalTransactionID string `json:"internalTransactionId,omitempty"`

	BookingDate     string `json:"bookingDate,omitempty"`
	BookingDateTime string `json:"bookingDateTime,omitempty"`
	ValueDate       string `json:"valueDate,omitempty"`
	ValueDateTime   string `json:"valueDateTime,omitempty"`

	TransactionAmount Amount `json:"transactionAmount"`

	CreditorName string `json:"creditorName,omitempty"`
	DebtorName   string `json:"debtorName,omitempty"`

	RemittanceInformationUnstructured      string   `json:"remittanceInformationUnstructured,omitempty"`
	RemittanceInformationUnstructuredArray []string `json:"remittanceInformationUnstructuredArray,omitempty"`
	RemittanceInformationStructured        string   `json:"remittanceInformationStructured,omitempty"`
	AdditionalInformation                  string   `json:"additionalInformation,omitempty"`
}

// TransactionBuckets splits transactions by settlement state. Only booked
// transactions feed the sync pipeline by default.
type TransactionBuckets struct {
	Booked  []Transaction `json:"booked"`
	Pending []Transaction `json:"pending"`
}
