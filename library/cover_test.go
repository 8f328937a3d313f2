package library

import (
	"bytes"
	"image"
	"testing"

	"github.com/disintegration/imaging"
	"go.uber.org/zap/zaptest"

	"ebr/config"
	"ebr/epub"
)

func TestThumbnailScalesDown(t *testing.T) {
	src := imaging.New(200, 100, image.White.C)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.PNG); err != nil {
		t.Fatalf("encode source: %v", err)
	}

	cover := &epub.CoverImage{Path: "images/cover.png", MediaType: "image/png", Data: buf.Bytes()}
	thumb := Thumbnail(cover, config.CoverConfig{Width: 50, Height: 50}, zaptest.NewLogger(t))
	if thumb == nil {
		t.Fatal("expected a thumbnail")
	}

	img, err := imaging.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	b := img.Bounds()
	if b.Dx() > 50 || b.Dy() > 50 {
		t.Fatalf("thumbnail not bounded: %dx%d", b.Dx(), b.Dy())
	}
	if b.Dx() != 50 || b.Dy() != 25 {
		t.Fatalf("aspect ratio not kept: %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	src := imaging.New(30, 20, image.White.C)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.PNG); err != nil {
		t.Fatalf("encode source: %v", err)
	}

	cover := &epub.CoverImage{Path: "small.png", MediaType: "image/png", Data: buf.Bytes()}
	thumb := Thumbnail(cover, config.CoverConfig{Width: 100, Height: 100}, zaptest.NewLogger(t))
	if thumb == nil {
		t.Fatal("expected a thumbnail")
	}
	img, err := imaging.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 30 || b.Dy() != 20 {
		t.Fatalf("small image should keep its size, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnailRasterizesSVG(t *testing.T) {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 200">
		<rect x="10" y="10" width="80" height="180" fill="black"/>
	</svg>`
	cover := &epub.CoverImage{Path: "cover.svg", MediaType: "image/svg+xml", Data: []byte(svg)}
	thumb := Thumbnail(cover, config.CoverConfig{Width: 60, Height: 80}, zaptest.NewLogger(t))
	if thumb == nil {
		t.Fatal("expected a rasterized thumbnail")
	}
	img, err := imaging.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	b := img.Bounds()
	if b.Dx() > 60 || b.Dy() > 80 {
		t.Fatalf("rasterized thumbnail not bounded: %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnailToleratesGarbage(t *testing.T) {
	cover := &epub.CoverImage{Path: "bad.png", MediaType: "image/png", Data: []byte("not an image")}
	if thumb := Thumbnail(cover, config.CoverConfig{Width: 50, Height: 50}, zaptest.NewLogger(t)); thumb != nil {
		t.Fatal("undecodable cover should yield no thumbnail")
	}
	if thumb := Thumbnail(nil, config.CoverConfig{Width: 50, Height: 50}, zaptest.NewLogger(t)); thumb != nil {
		t.Fatal("nil cover should yield no thumbnail")
	}
}
