package ingest

type InspectPayload struct {
	Feed   string `json:"feed" validate:"required,oneof=metadata files"`
	FromID int    `json:"from_id" validate:"min=0"`
	ToID   int    `json:"to_id" validate:"min=0"`
}
