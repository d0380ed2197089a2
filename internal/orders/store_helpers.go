package orders

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const orderColumns = "id, order_number, customer_name, customer_phone, content_type, capacity, genres_json, artists_json, videos_json, movies_json, series_json, status, price_cents, notes, error_message, created_at, updated_at"

func scanOrder(scanner interface{ Scan(dest ...any) error }) (*Order, error) {
	var (
		id            string
		orderNumber   sql.NullString
		customerName  sql.NullString
		customerPhone sql.NullString
		contentType   string
		capacity      sql.NullString
		genres        sql.NullString
		artists       sql.NullString
		videos        sql.NullString
		movies        sql.NullString
		series        sql.NullString
		statusStr     string
		priceCents    int64
		notes         sql.NullString
		errorMessage  sql.NullString
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(
		&id,
		&orderNumber,
		&customerName,
		&customerPhone,
		&contentType,
		&capacity,
		&genres,
		&artists,
		&videos,
		&movies,
		&series,
		&statusStr,
		&priceCents,
		&notes,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	order := &Order{
		ID:            id,
		OrderNumber:   orderNumber.String,
		CustomerName:  customerName.String,
		CustomerPhone: customerPhone.String,
		ContentType:   ContentType(contentType),
		Capacity:      capacity.String,
		Genres:        decodeList(genres.String),
		Artists:       decodeList(artists.String),
		Videos:        decodeList(videos.String),
		Movies:        decodeList(movies.String),
		Series:        decodeList(series.String),
		Status:        Status(statusStr),
		PriceCents:    priceCents,
		Notes:         notes.String,
		ErrorMessage:  errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		order.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		order.UpdatedAt = updated
	}
	return order, nil
}

func encodeList(values []string) any {
	if len(values) == 0 {
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return string(data)
}

func decodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
