package api

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/unihub/unihub/core"
	"github.com/unihub/unihub/core/session"
)

// Blog categories
const (
	CategoryArticle    = "ARTICLE"
	CategoryInternship = "INTERNSHIP"
	CategoryJob        = "JOB"
)

type (
	Blog struct {
		ID          int64         `json:"blogId"`
		Title       string        `json:"title"`
		Content     string        `json:"content"`
		Category    string        `json:"category"`
		Status      string        `json:"status"`
		IsGlobal    bool          `json:"isGlobal"`
		University  *University   `json:"university"`
		Author      *session.User `json:"author"`
		CreatedAt   Time          `json:"createdAt"`
		UpdatedAt   Time          `json:"updatedAt"`
		ReportCount int64         `json:"reportCount"`
	}

	// BlogInput is the body of a blog post creation or edit.
	BlogInput struct {
		Title    string `json:"title" validate:"required,min=3,max=255"`
		Content  string `json:"content" validate:"required,min=10"`
		Category string `json:"category" validate:"required,oneof=ARTICLE INTERNSHIP JOB"`
		IsGlobal bool   `json:"isGlobal"`
	}

	BlogFilter struct {
		UniversityID *int64
		Category     string
		Status       string
		IsGlobal     *bool
	}
)

func (in *BlogInput) Validate(validate *validator.Validate, translator ut.Translator) error {
	in.Title = core.CleanString(in.Title)
	in.Content = core.CleanString(in.Content)
	in.Category = strings.ToUpper(core.CleanString(in.Category))
	return core.TranslateErrors(validate.Struct(in), translator)
}

func blogPath(id int64, parts ...string) string {
	return strings.Join(append([]string{"/blogs", strconv.FormatInt(id, 10)}, parts...), "/")
}

func (c *Client) Blogs(ctx context.Context, filter BlogFilter) ([]Blog, error) {
	vals := url.Values{}
	if filter.UniversityID != nil {
		vals.Set("universityId", strconv.FormatInt(*filter.UniversityID, 10))
	}
	if filter.Category != "" {
		vals.Set("category", strings.ToUpper(filter.Category))
	}
	if filter.Status != "" {
		vals.Set("status", strings.ToUpper(filter.Status))
	}
	if filter.IsGlobal != nil {
		vals.Set("isGlobal", strconv.FormatBool(*filter.IsGlobal))
	}
	var blogs []Blog
	err := c.get(ctx, "/blogs", vals, &blogs)
	return blogs, err
}

func (c *Client) Blog(ctx context.Context, id int64) (Blog, error) {
	var blog Blog
	err := c.get(ctx, blogPath(id), nil, &blog)
	return blog, err
}

// CreateBlog submits a post; it is listed once a supervisor approves it.
func (c *Client) CreateBlog(ctx context.Context, in BlogInput) (Blog, error) {
	var blog Blog
	err := c.post(ctx, "/blogs", in, &blog)
	return blog, err
}

func (c *Client) UpdateBlog(ctx context.Context, id int64, in BlogInput) (Blog, error) {
	var blog Blog
	err := c.put(ctx, blogPath(id), in, &blog)
	return blog, err
}

func (c *Client) DeleteBlog(ctx context.Context, id int64) (string, error) {
	var msg string
	err := c.del(ctx, blogPath(id), &msg)
	return msg, err
}

func (c *Client) ApproveBlog(ctx context.Context, id int64) (string, error) {
	var msg string
	err := c.put(ctx, blogPath(id, "approve"), nil, &msg)
	return msg, err
}

func (c *Client) RejectBlog(ctx context.Context, id int64, reason string) (string, error) {
	var msg string
	err := c.put(ctx, blogPath(id, "reject"), map[string]string{"reason": reason}, &msg)
	return msg, err
}

func (c *Client) MyBlogs(ctx context.Context) ([]Blog, error) {
	var blogs []Blog
	err := c.get(ctx, "/blogs/my-blogs", nil, &blogs)
	return blogs, err
}

// PendingBlogs lists the posts awaiting moderation.
func (c *Client) PendingBlogs(ctx context.Context) ([]Blog, error) {
	var blogs []Blog
	err := c.get(ctx, "/blogs/pending", nil, &blogs)
	return blogs, err
}
