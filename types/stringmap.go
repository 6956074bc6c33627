package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONStringMap stores participant attributes as a JSON object column.
type JSONStringMap map[string]string

// Value implements driver.Valuer. A nil map is stored as an empty object.
func (m JSONStringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	ba, err := json.Marshal(map[string]string(m))
	return string(ba), err
}

// Scan implements sql.Scanner.
func (m *JSONStringMap) Scan(val interface{}) error {
	var ba []byte
	switch v := val.(type) {
	case nil:
		*m = JSONStringMap{}
		return nil
	case []byte:
		ba = v
	case string:
		ba = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONStringMap", val)
	}
	t := map[string]string{}
	if err := json.Unmarshal(ba, &t); err != nil {
		return err
	}
	*m = t
	return nil
}

// GormDataType gorm common data type
func (JSONStringMap) GormDataType() string {
	return "jsonstringmap"
}

// GormDBDataType gorm db data type
func (JSONStringMap) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}
