package obsws

import "context"

func (c *Client) setInputSettings(ctx context.Context, input string, settings map[string]any) error {
	return c.Call(ctx, "SetInputSettings", map[string]any{
		"inputName":     input,
		"inputSettings": settings,
		"overlay":       true,
	}, nil)
}

// SetTextContent updates a text source.
func (c *Client) SetTextContent(ctx context.Context, target, text string) error {
	return c.setInputSettings(ctx, target, map[string]any{"text": text})
}

// SetBrowsableContentURL points a browser source at url.
func (c *Client) SetBrowsableContentURL(ctx context.Context, target, url string) error {
	return c.setInputSettings(ctx, target, map[string]any{"url": url})
}

// SetMediaContent swaps the file played by a media source.
func (c *Client) SetMediaContent(ctx context.Context, target, ref string) error {
	return c.setInputSettings(ctx, target, map[string]any{"local_file": ref})
}

func (c *Client) SetFilterVisibility(ctx context.Context, target, filter string, show bool) error {
	return c.Call(ctx, "SetSourceFilterEnabled", map[string]any{
		"sourceName":    target,
		"filterName":    filter,
		"filterEnabled": show,
	}, nil)
}

// SetElementVisibility toggles target's scene item in the current program scene.
func (c *Client) SetElementVisibility(ctx context.Context, target string, show bool) error {
	var scene struct {
		Name string `json:"currentProgramSceneName"`
	}
	if err := c.Call(ctx, "GetCurrentProgramScene", nil, &scene); err != nil {
		return err
	}

	var item struct {
		ID int `json:"sceneItemId"`
	}
	if err := c.Call(ctx, "GetSceneItemId", map[string]any{
		"sceneName":  scene.Name,
		"sourceName": target,
	}, &item); err != nil {
		return err
	}

	return c.Call(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        scene.Name,
		"sceneItemId":      item.ID,
		"sceneItemEnabled": show,
	}, nil)
}
