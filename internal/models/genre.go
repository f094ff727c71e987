package models

// Genre 曲风主列表
//
// 平台级的曲风清单，启动时播种，仓库通过repo_genres多对多关联。
type Genre struct {
	GenreID          uint   `gorm:"primarykey" json:"genre_id"`
	GenreName        string `gorm:"size:100;not null;uniqueIndex" json:"genre_name"`
	GenreDescription string `gorm:"size:500;not null;default:''" json:"genre_description"`
	GenreIcon        string `gorm:"size:50" json:"genre_icon,omitempty"`
	GenreColor       string `gorm:"size:7" json:"genre_color,omitempty"`
	DisplayOrder     int    `gorm:"default:0" json:"display_order"`
}

// TableName 指定表名
func (Genre) TableName() string {
	return "genre_list"
}
