package models

import (
	"time"

	"gorm.io/datatypes"
)

type Document struct {
	ID              string         `gorm:"primaryKey;type:text;comment:Reader document id"`
	Author          *string        `gorm:"type:text"`
	Content         *string        `gorm:"type:text"`
	Notes           *string        `gorm:"type:text"`
	Summary         *string        `gorm:"type:text"`
	SiteName        *string        `gorm:"type:text"`
	Source          *string        `gorm:"type:text"`
	ReadwiseURL     *string        `gorm:"type:text;comment:Reader web url"`
	SourceURL       *string        `gorm:"type:text;index;comment:original url, not unique"`
	ImageURL        *string        `gorm:"type:text"`
	ParentID        *string        `gorm:"type:text;index;comment:parent document id for highlights and notes"`
	Title           string         `gorm:"type:text;not null"`
	Category        Category       `gorm:"type:text;not null;check:chk_documents_category,category IN ('article','email','epub','highlight','note','pdf','rss','tweet','video')"`
	Location        Location       `gorm:"type:text;not null;check:chk_documents_location,location IN ('archive','feed','later','new','shortlist')"`
	Tags            datatypes.JSON `gorm:"comment:opaque tag payload"`
	ReadingProgress float64        `gorm:"not null;check:chk_documents_reading_progress,reading_progress >= 0 AND reading_progress <= 1"`
	WordCount       int            `gorm:"not null;check:chk_documents_word_count,word_count >= 0"`
	CreatedAt       time.Time      `gorm:"not null;autoCreateTime:false"`
	UpdatedAt       *time.Time     `gorm:"index;autoUpdateTime:false"`
	PublishedDate   *time.Time
}

func (Document) TableName() string {
	return "documents"
}

// DocumentColumns lists every column an upsert overwrites on conflict.
var DocumentColumns = []string{
	"author",
	"content",
	"notes",
	"summary",
	"site_name",
	"source",
	"readwise_url",
	"source_url",
	"image_url",
	"parent_id",
	"title",
	"category",
	"location",
	"tags",
	"reading_progress",
	"word_count",
	"created_at",
	"updated_at",
	"published_date",
}
