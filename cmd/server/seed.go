package main

import (
	"gorm.io/gorm"

	"soundhaus/internal/models"
)

// seedGenres 播种曲风主列表，已存在的不覆盖
func seedGenres(db *gorm.DB) error {
	genres := []models.Genre{
		{GenreName: "Electronic", GenreDescription: "电子音乐", GenreIcon: "bolt", GenreColor: "#7C3AED", DisplayOrder: 1},
		{GenreName: "Hip-Hop", GenreDescription: "嘻哈说唱", GenreIcon: "mic", GenreColor: "#F59E0B", DisplayOrder: 2},
		{GenreName: "Rock", GenreDescription: "摇滚", GenreIcon: "guitar", GenreColor: "#EF4444", DisplayOrder: 3},
		{GenreName: "Pop", GenreDescription: "流行", GenreIcon: "star", GenreColor: "#EC4899", DisplayOrder: 4},
		{GenreName: "Jazz", GenreDescription: "爵士", GenreIcon: "sax", GenreColor: "#3B82F6", DisplayOrder: 5},
		{GenreName: "Classical", GenreDescription: "古典", GenreIcon: "violin", GenreColor: "#10B981", DisplayOrder: 6},
		{GenreName: "R&B", GenreDescription: "节奏布鲁斯", GenreIcon: "heart", GenreColor: "#8B5CF6", DisplayOrder: 7},
		{GenreName: "Ambient", GenreDescription: "氛围音乐", GenreIcon: "cloud", GenreColor: "#06B6D4", DisplayOrder: 8},
		{GenreName: "Folk", GenreDescription: "民谣", GenreIcon: "leaf", GenreColor: "#84CC16", DisplayOrder: 9},
		{GenreName: "Experimental", GenreDescription: "实验音乐", GenreIcon: "flask", GenreColor: "#6B7280", DisplayOrder: 10},
	}

	for _, genre := range genres {
		var count int64
		db.Model(&models.Genre{}).Where("genre_name = ?", genre.GenreName).Count(&count)
		if count == 0 {
			if err := db.Create(&genre).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
