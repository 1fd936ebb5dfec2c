package mapper

// ERP wire records as returned by the OData endpoints. Field names follow
// the ERP's PascalCase convention; the mapper owns the translation into
// domain rows.

// QAEntry is one line of a consultation's question/answer tab section.
type QAEntry struct {
	LineNumber int    `json:"LineNumber,string"`
	Question   string `json:"Question"`
	Answer     string `json:"Answer"`
	BlockKey   string `json:"Block_Key"`
}

// ConsultationRecord is one row of the ConsultationDoc entity.
type ConsultationRecord struct {
	RefKey            string    `json:"Ref_Key"`
	Number            string    `json:"Number"`
	ChangeDate        string    `json:"ChangeDate"`
	Date              string    `json:"Date"`
	StartDate         string    `json:"StartDate"`
	EndDate           string    `json:"EndDate"`
	Denied            bool      `json:"Denied"`
	Kind              string    `json:"Kind"`
	Category          string    `json:"Category"`
	ClientKey         string    `json:"Client_Key"`
	ClientID          string    `json:"ClientID"`
	OrgINN            string    `json:"OrgINN"`
	ManagerKey        string    `json:"Manager_Key"`
	Author            string    `json:"Author"`
	Comment           string    `json:"Comment"`
	OnlineQuestionCat string    `json:"OnlineQuestionCategory"`
	OnlineQuestion    string    `json:"OnlineQuestion"`
	ChatID            string    `json:"ChatID"`
	Questions         []QAEntry `json:"Questions"`
	OnlineQuestions   []QAEntry `json:"OnlineQuestions"`
}

// CallRecord is one row of the CallRegister entity.
type CallRecord struct {
	Period     string `json:"Period"`
	ConsKey    string `json:"Consultation_Key"`
	ManagerKey string `json:"Manager_Key"`
}

// RedateRecord is one row of the ReschedRegister entity.
type RedateRecord struct {
	Period     string `json:"Period"`
	ConsKey    string `json:"Consultation_Key"`
	ClientsKey string `json:"Client_Key"`
	ManagerKey string `json:"Manager_Key"`
	OldDate    string `json:"OldDate"`
	NewDate    string `json:"NewDate"`
}

// RatingRecord is one row of the RatingRegister entity. The register's
// Period is frequently null, which is why the ratings puller checkpoints
// by Ref_Key instead.
type RatingRecord struct {
	RefKey         string   `json:"Ref_Key"`
	Period         string   `json:"Period"`
	ConsKey        string   `json:"Consultation_Key"`
	ManagerKey     string   `json:"Manager_Key"`
	QuestionNumber int      `json:"QuestionNumber,string"`
	Value          *float64 `json:"Value"`
}

// QueueClosingRecord is one row of the QueueClosingRegister entity.
type QueueClosingRecord struct {
	Date       string `json:"Date"`
	ManagerKey string `json:"Manager_Key"`
	Closed     bool   `json:"Closed"`
}

// UserRecord is one row of the UserCatalog entity.
type UserRecord struct {
	RefKey       string `json:"Ref_Key"`
	ClRefKey     string `json:"ClRef_Key"`
	Description  string `json:"Description"`
	Email        string `json:"Email"`
	DeletionMark bool   `json:"DeletionMark"`
	Invalid      bool   `json:"Invalid"`
	Service      bool   `json:"Service"`
	ConLimit     int    `json:"ConsultationLimit"`
	StartHour    string `json:"StartHour"`
	EndHour      string `json:"EndHour"`
}

// UserSkillRecord is one row of the UserCategoryRegister entity.
type UserSkillRecord struct {
	UserKey     string `json:"User_Key"`
	CategoryKey string `json:"Category_Key"`
}

// UserDepartmentRecord is one row of the UserDepartmentRegister entity.
type UserDepartmentRecord struct {
	UserKey       string `json:"User_Key"`
	DepartmentKey string `json:"Department_Key"`
}

// DepartmentRecord is one row of the DepartmentCatalog entity.
type DepartmentRecord struct {
	RefKey      string `json:"Ref_Key"`
	Description string `json:"Description"`
}

// UserLanguageRecord is one row of the UserLanguageRegister entity.
type UserLanguageRecord struct {
	UserKey  string `json:"User_Key"`
	Language string `json:"Language"`
}

// ConsultantListRecord is one row of the ConsultantListRegister entity.
// Presence in the register enables an operator for selection.
type ConsultantListRecord struct {
	UserKey string `json:"User_Key"`
	Enabled bool   `json:"Enabled"`
}
