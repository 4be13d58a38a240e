package models

// BomTemplate is one (product, part) line of a bill of materials.
type BomTemplate struct {
	ProductID string `gorm:"column:product_id;primaryKey"`
	PartID    string `gorm:"column:part_id;primaryKey"`
	QtyNeeded int    `gorm:"column:qty_needed;not null;check:chk_bom_templates_qty_positive,qty_needed > 0"`
}
