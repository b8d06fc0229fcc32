package model

const (
	QueryTermTable    = "query_term"
	QueryTermPubTable = "query_term_pub"
)

// QueryTerm is one indexed (path, location, value) triple. The same shape is
// stored in query_term (working copies) and query_term_pub (latest
// publishable versions).
type QueryTerm struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	DocID   uint   `gorm:"not null;index"`
	Path    string `gorm:"not null;index"`
	Value   string `gorm:"not null;size:800"`
	IntVal  *int64
	NodeLoc string `gorm:"not null;size:160"`
}

// QueryTermDef names a path whose values are indexed. Paths beginning with
// "//" match the element or attribute anywhere in the document.
type QueryTermDef struct {
	Path     string `gorm:"primaryKey"`
	TermRule string
}

func (QueryTermDef) TableName() string {
	return "query_term_def"
}
