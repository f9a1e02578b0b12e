package ledger

type ListRecordsQuery struct {
	Limit  int     `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=500"`
	Offset int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Feed   *string `query:"feed" json:"feed,omitempty" validate:"omitempty,oneof=metadata files"`
	Status *string `query:"status" json:"status,omitempty" validate:"omitempty,oneof=added updated skipped"`
	FromID *int    `query:"from_id" json:"from_id,omitempty" validate:"omitempty,min=1"`
	ToID   *int    `query:"to_id" json:"to_id,omitempty" validate:"omitempty,min=1"`
}
