package books

type ListBooksQuery struct {
	Limit    int     `query:"limit" json:"limit,omitempty" default:"24" validate:"min=1,max=100"`
	Offset   int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	SeriesID *int    `query:"series_id" json:"series_id,omitempty" validate:"omitempty,min=1"`
	HasFile  *bool   `query:"has_file" json:"has_file,omitempty"`
	Search   *string `query:"search" json:"search,omitempty" validate:"omitempty,max=100"`
	Sort     string  `query:"sort" json:"sort,omitempty" validate:"omitempty,oneof=created title author"`
}

type UpdateBookPayload struct {
	Description *string  `json:"description,omitempty" validate:"omitempty,max=20000"`
	Rating      *float64 `json:"rating,omitempty" validate:"omitempty,min=0,max=10"`
	Genres      []string `json:"genres,omitempty" validate:"omitempty,dive,max=100"`
	Tags        []string `json:"tags,omitempty" validate:"omitempty,dive,max=100"`
}
